package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chromekit/internal/logging"
)

// Artifact is the paired generated binding bundle.
type Artifact struct {
	// Hash is the content hash of the spec both bundles were produced
	// from.
	Hash string
	// BrowserPath is the browser-side stub bundle.
	BrowserPath string
	// FrontendPath is the front-end-side proxy bundle.
	FrontendPath string
	// Regenerated is false when the recorded hash matched and nothing was
	// emitted.
	Regenerated bool
}

const (
	browserFile  = "browser_bindings.h"
	frontendFile = "bridge.js"
)

// Generator emits binding bundles from a validated spec.
type Generator struct {
	log *logging.Logger
}

// NewGenerator creates a bridge generator.
func NewGenerator(log *logging.Logger) *Generator {
	return &Generator{log: log.Named("bridge")}
}

// Generate emits both bundles under outDir unless the spec hash matches
// lastHash and both bundles are already on disk, in which case generation
// is skipped and the existing artifact locations are returned. The
// presence check matters because views are rebuilt from scratch: a
// matching hash says nothing about whether outDir survived.
func (g *Generator) Generate(ctx context.Context, spec *Spec, outDir, lastHash string) (*Artifact, error) {
	artifact := &Artifact{
		Hash:         spec.Hash(),
		BrowserPath:  filepath.Join(outDir, browserFile),
		FrontendPath: filepath.Join(outDir, frontendFile),
	}

	if spec.Hash() == lastHash && fileExists(artifact.BrowserPath) && fileExists(artifact.FrontendPath) {
		g.log.Debug(ctx, "api spec unchanged, skipping generation", zap.String("hash", lastHash))
		return artifact, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bridge output directory: %w", err)
	}

	browser, err := render(browserTemplate, templateData(spec, SideBrowser))
	if err != nil {
		return nil, fmt.Errorf("failed to render browser bindings: %w", err)
	}
	frontend, err := render(frontendTemplate, templateData(spec, SideFrontend))
	if err != nil {
		return nil, fmt.Errorf("failed to render frontend bindings: %w", err)
	}

	if err := os.WriteFile(artifact.BrowserPath, browser, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write browser bindings: %w", err)
	}
	if err := os.WriteFile(artifact.FrontendPath, frontend, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write frontend bindings: %w", err)
	}

	artifact.Regenerated = true
	g.log.Info(ctx, "bridge bindings generated",
		zap.String("hash", artifact.Hash),
		zap.Int("entries", len(spec.APIs)))
	return artifact, nil
}

// entryView is the template-facing form of one API entry.
type entryView struct {
	Name       string
	DispatchID string
	Params     []Param
	Returns    string
	CppReturn  string
}

type specView struct {
	Hash    string
	Entries []entryView
}

// templateData selects the entries visible on a side. "both" entries
// appear on either side with the same dispatch identifier.
func templateData(spec *Spec, side Side) specView {
	v := specView{Hash: spec.Hash()}
	for _, e := range spec.APIs {
		if e.Side != side && e.Side != SideBoth {
			continue
		}
		v.Entries = append(v.Entries, entryView{
			Name:       e.Name,
			DispatchID: DispatchID(e.Name),
			Params:     e.Params,
			Returns:    e.Returns,
			CppReturn:  cppType(e.Returns),
		})
	}
	return v
}

func cppType(t string) string {
	switch t {
	case "string":
		return "std::string"
	case "int":
		return "int64_t"
	case "bool":
		return "bool"
	case "double":
		return "double"
	case "void":
		return "void"
	default:
		return t // named shape, emitted as a struct elsewhere
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func render(tmpl *template.Template, data specView) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var browserTemplate = template.Must(template.New("browser").Funcs(template.FuncMap{
	"cpp": cppType,
}).Parse(`// Generated by chromekit from the API surface spec ({{.Hash}}).
// Do not edit; changes will be overwritten on the next generation.
#ifndef CHROMEKIT_GEN_BRIDGE_BROWSER_BINDINGS_H_
#define CHROMEKIT_GEN_BRIDGE_BROWSER_BINDINGS_H_

#include <cstdint>
#include <functional>
#include <map>
#include <string>

namespace chromekit_bridge {

// Each hook receives the serialized argument list for one dispatch and
// returns the serialized response correlated by the same dispatch id.
using BridgeHook = std::function<std::string(const std::string& args_json)>;
{{range .Entries}}
// {{.Name}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Type}} {{$p.Name}}{{end}}) -> {{.Returns}}
{{.CppReturn}} {{.Name}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{cpp $p.Type}} {{$p.Name}}{{end}});
{{end}}
// Dispatch table: stable identifiers shared with the front-end bundle.
inline const std::map<std::string, const char*> kDispatchTable = {
{{- range .Entries}}
    {"{{.Name}}", "{{.DispatchID}}"},
{{- end}}
};

}  // namespace chromekit_bridge

#endif  // CHROMEKIT_GEN_BRIDGE_BROWSER_BINDINGS_H_
`))

var frontendTemplate = template.Must(template.New("frontend").Parse(`// Generated by chromekit from the API surface spec ({{.Hash}}).
// Do not edit; changes will be overwritten on the next generation.
'use strict';

let nextRequestId = 0;
const pending = new Map();

// Serializes arguments and correlates the response by dispatch id plus a
// per-call request id.
function sendRequest(dispatchId, args) {
  const requestId = nextRequestId++;
  return new Promise((resolve, reject) => {
    pending.set(requestId, { resolve, reject });
    window.postMessage({ channel: 'chromekit-bridge', dispatchId, requestId, args }, '*');
  });
}

window.addEventListener('message', (event) => {
  const msg = event.data;
  if (!msg || msg.channel !== 'chromekit-bridge-reply') return;
  const waiter = pending.get(msg.requestId);
  if (!waiter) return;
  pending.delete(msg.requestId);
  if (msg.error) {
    waiter.reject(new Error(msg.error));
  } else {
    waiter.resolve(msg.result);
  }
});

const bridge = {
{{- range .Entries}}
  // {{.Name}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Name}}: {{$p.Type}}{{end}}) -> {{.Returns}}
  {{.Name}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Name}}{{end}}) {
    return sendRequest('{{.DispatchID}}', [{{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Name}}{{end}}]);
  },
{{- end}}
};

export default bridge;
`))
