package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/websockets"
)

// ClientDefinition is the `client` block used by `callsec watch`.
//
//	client {
//	  api_base   = "https://api.example.com"
//	  origin     = "https://dashboard.example.com"
//	  username   = "reception"
//	  password   = env.CALLSEC_PASSWORD
//	  categories = ["call", "message"]
//
//	  reconnect {
//	    max_attempts = 10
//	    base_delay   = "1s"
//	  }
//	}
type ClientDefinition struct {
	URL        string               `hcl:"url,optional"`
	APIBase    string               `hcl:"api_base,optional"`
	Origin     string               `hcl:"origin,optional"`
	Driver     string               `hcl:"driver,optional"`
	Token      string               `hcl:"token,optional"`
	TokenFile  string               `hcl:"token_file,optional"`
	Username   string               `hcl:"username,optional"`
	Password   string               `hcl:"password,optional"`
	Categories []string             `hcl:"categories,optional"`
	Filter     string               `hcl:"filter,optional"`
	Reconnect  *ReconnectDefinition `hcl:"reconnect,block"`

	DefRange        hcl.Range
	WebsocketDriver websockets.Driver
	ReconnectPolicy realtime.ReconnectPolicy
	categories      []realtime.Category
}

type ReconnectDefinition struct {
	MaxAttempts *int     `hcl:"max_attempts,optional"`
	BaseDelay   string   `hcl:"base_delay,optional"`
	Factor      *float64 `hcl:"factor,optional"`
}

// Target returns the configured url, or derives one from api_base and
// origin. It returns "" when neither is set.
func (d *ClientDefinition) Target() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}
	if d.APIBase == "" {
		return "", nil
	}
	return realtime.DeriveTarget(d.Origin, d.APIBase)
}

// ParsedCategories returns the validated categories list.
func (d *ClientDefinition) ParsedCategories() []realtime.Category {
	return d.categories
}

type ClientBlockHandler struct {
	BlockHandlerBase

	first *hcl.Range
}

func NewClientBlockHandler() *ClientBlockHandler {
	return &ClientBlockHandler{}
}

func (h *ClientBlockHandler) Preprocess(block *hcl.Block) hcl.Diagnostics {
	diags := singleBlock(block, h.first)
	if h.first == nil {
		h.first = &block.DefRange
	}
	return diags
}

func (h *ClientBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := &ClientDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, def)
	if diags.HasErrors() {
		return diags
	}
	def.DefRange = block.DefRange

	diags = diags.Extend(def.validate())
	if diags.HasErrors() {
		return diags
	}

	config.Client = def
	return diags
}

func (d *ClientDefinition) validate() hcl.Diagnostics {
	var diags hcl.Diagnostics
	invalid := func(summary, detail string) {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   detail,
			Subject:  &d.DefRange,
		})
	}

	if _, err := d.Target(); err != nil {
		invalid("Invalid client target", err.Error())
	}

	driver, err := websockets.ParseDriver(d.Driver)
	if err != nil {
		invalid("Invalid driver", err.Error())
	}
	d.WebsocketDriver = driver

	credentials := 0
	for _, set := range []bool{d.Token != "", d.TokenFile != "", d.Username != ""} {
		if set {
			credentials++
		}
	}
	if credentials > 1 {
		invalid("Conflicting credentials", "Only one of token, token_file or username may be set")
	}
	if d.Username != "" && d.APIBase == "" {
		invalid("Missing api_base", "username and password log in against api_base, which is not set")
	}

	for _, name := range d.Categories {
		category, err := realtime.ParseCategory(name)
		if err != nil {
			invalid("Invalid category", err.Error())
			continue
		}
		d.categories = append(d.categories, category)
	}

	policy, policyDiags := d.Reconnect.policy(&d.DefRange)
	diags = diags.Extend(policyDiags)
	d.ReconnectPolicy = policy

	return diags
}

func (r *ReconnectDefinition) policy(subject *hcl.Range) (realtime.ReconnectPolicy, hcl.Diagnostics) {
	policy := realtime.DefaultReconnectPolicy()
	if r == nil {
		return policy, nil
	}

	var diags hcl.Diagnostics

	if r.MaxAttempts != nil {
		policy.MaxAttempts = *r.MaxAttempts
	}
	if r.Factor != nil {
		policy.Factor = *r.Factor
	}
	if r.BaseDelay != "" {
		delay, durDiags := parseDuration("base_delay", r.BaseDelay, subject)
		diags = diags.Extend(durDiags)
		policy.BaseDelay = delay
	}

	if err := policy.Validate(); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid reconnect policy",
			Detail:   err.Error(),
			Subject:  subject,
		})
	}

	return policy, diags
}

func parseDuration(name, value string, subject *hcl.Range) (time.Duration, hcl.Diagnostics) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err == nil && d < 0 {
		err = fmt.Errorf("must not be negative")
	}
	if err != nil {
		return 0, hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration",
			Detail:   fmt.Sprintf("%s = %q: %s", name, value, err),
			Subject:  subject,
		}}
	}
	return d, nil
}
