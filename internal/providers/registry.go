package providers

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"

	"bookkeepingcpa/pkg/config"
	"bookkeepingcpa/pkg/problems"
)

type Options struct {
	// RedirectBaseURL is the public base of the connection service; the callback path is appended.
	RedirectBaseURL string
	Timeout         time.Duration
	Credentials     func(provider string, sandbox bool) config.ProviderCreds
	Transport       http.RoundTripper
}

// CallbackPath is where providers redirect the browser after consent.
func CallbackPath(provider string) string { return "/v1/integrations/" + provider + "/callback" }

type constructor func(*base) Adapter

var variants = map[Kind]constructor{
	KindAmazon:     func(b *base) Adapter { return &amazonAdapter{b} },
	KindShopify:    func(b *base) Adapter { return &shopifyAdapter{b} },
	KindQuickBooks: func(b *base) Adapter { return &quickbooksAdapter{b} },
}

// Registry maps provider ids to definitions and their adapters.
type Registry struct {
	opts     Options
	client   *http.Client
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(opts Options, defs ...Definition) (*Registry, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Credentials == nil {
		opts.Credentials = func(string, bool) config.ProviderCreds { return config.ProviderCreds{} }
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	r := &Registry{
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(rt)},
		adapters: map[string]Adapter{},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a provider definition.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("provider definition without id")
	}
	if def.Kind == "" {
		def.Kind = Kind(def.ID)
	}
	mk, ok := variants[def.Kind]
	if !ok {
		return fmt.Errorf("provider %s: unknown kind %q", def.ID, def.Kind)
	}
	id := def.ID
	b := &base{
		def:         def,
		creds:       func(sandbox bool) config.ProviderCreds { return r.opts.Credentials(id, sandbox) },
		redirectURL: strings.TrimRight(r.opts.RedirectBaseURL, "/") + CallbackPath(id),
		client:      r.client,
	}
	r.mu.Lock()
	r.adapters[id] = mk(b)
	r.mu.Unlock()
	return nil
}

// Adapter returns the adapter for a provider id; unknown ids are ProviderUnavailable.
func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, problems.Newf(problems.ProviderUnavailable, "unknown provider %q", id)
	}
	return a, nil
}

func (r *Registry) Definition(id string) (Definition, error) {
	a, err := r.Adapter(id)
	if err != nil {
		return Definition{}, err
	}
	return a.Definition(), nil
}

func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir registers every .yaml/.yml/.json definition under dir, replacing builtins with the same id.
func (r *Registry) LoadDir(dir string) (int, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return 0, err
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}

func LoadDefinitions(dir string) ([]Definition, error) {
	if dir == "" {
		return nil, nil
	}
	out := []Definition{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var def Definition
		if ext == ".json" {
			if err := json.Unmarshal(b, &def); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &def); err != nil {
			return fmt.Errorf("%s: yaml parse: %w", path, err)
		}
		if def.ID != "" {
			out = append(out, def)
		}
		return nil
	})
	return out, err
}
