package config

// DefaultProjectJSON is the configuration template written into a freshly
// created project directory. The feature and flag set mirrors a stock
// Chromium fork setup: security and privacy features on, release-style
// build settings.
const DefaultProjectJSON = `{
    "excludedFeatures": [],
    "buildFlags": {
        "is_debug": false,
        "use_jumbo_build": true,
        "thin_lto": true,
        "disable_google_update_check": true,
        "optimization_level": "O2",
        "enable_sandboxing": true,
        "enable_site_isolation": true,
        "enable_gpu_acceleration": true,
        "enable_tracking_protection": true,
        "enable_ad_blocking": true
    },
    "branding": {
        "name": "",
        "icon": "",
        "identifierPrefix": ""
    }
}
`

// DefaultGlobalJSON is the workspace-level configuration template.
const DefaultGlobalJSON = `{
    "excludedFeatures": [],
    "buildFlags": {
        "is_debug": false,
        "disable_google_update_check": true
    }
}
`
