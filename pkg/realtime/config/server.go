package config

import (
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// DefaultListen is the address `callsec serve` binds when none is given.
const DefaultListen = ":8080"

// ServerDefinition is the `server` block used by `callsec serve`. Zero
// durations leave the listener and issuer defaults in place.
type ServerDefinition struct {
	Listen       string            `hcl:"listen,optional"`
	Secret       string            `hcl:"secret"`
	Issuer       string            `hcl:"issuer,optional"`
	TokenTTL     string            `hcl:"token_ttl,optional"`
	AuthTimeout  string            `hcl:"auth_timeout,optional"`
	PingInterval string            `hcl:"ping_interval,optional"`
	QueueSize    int               `hcl:"queue_size,optional"`
	Users        map[string]string `hcl:"users,optional"`
	Origins      []string          `hcl:"origins,optional"`

	DefRange             hcl.Range
	TokenTTLDuration     time.Duration
	AuthTimeoutDuration  time.Duration
	PingIntervalDuration time.Duration
}

type ServerBlockHandler struct {
	BlockHandlerBase

	first *hcl.Range
}

func NewServerBlockHandler() *ServerBlockHandler {
	return &ServerBlockHandler{}
}

func (h *ServerBlockHandler) Preprocess(block *hcl.Block) hcl.Diagnostics {
	diags := singleBlock(block, h.first)
	if h.first == nil {
		h.first = &block.DefRange
	}
	return diags
}

func (h *ServerBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := &ServerDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, def)
	if diags.HasErrors() {
		return diags
	}
	def.DefRange = block.DefRange

	if def.Listen == "" {
		def.Listen = DefaultListen
	}

	if def.Secret == "" {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing secret",
			Detail:   "The server block needs a non-empty secret to sign tokens",
			Subject:  &def.DefRange,
		})
	}

	if def.QueueSize < 0 {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid queue_size",
			Detail:   "queue_size must not be negative",
			Subject:  &def.DefRange,
		})
	}

	var durDiags hcl.Diagnostics
	def.TokenTTLDuration, durDiags = parseDuration("token_ttl", def.TokenTTL, &def.DefRange)
	diags = diags.Extend(durDiags)
	def.AuthTimeoutDuration, durDiags = parseDuration("auth_timeout", def.AuthTimeout, &def.DefRange)
	diags = diags.Extend(durDiags)
	def.PingIntervalDuration, durDiags = parseDuration("ping_interval", def.PingInterval, &def.DefRange)
	diags = diags.Extend(durDiags)

	if diags.HasErrors() {
		return diags
	}

	config.Server = def
	return diags
}
