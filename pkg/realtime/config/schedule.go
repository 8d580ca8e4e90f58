package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/robfig/cron/v3"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
)

// ScheduleDefinition is a `schedule` block: a set of timed pushes the
// development server broadcasts to its connected clients.
//
//	schedule "rounds" {
//	  timezone = "America/New_York"
//
//	  at "0 9 * * MON-FRI" "morning" {
//	    category = "system"
//	    to       = "clinic-a/#"
//	    data     = { type = "system", status = "info", message = "Rounds start at ${formatdate("hh:mm", schedule.time)}" }
//	  }
//	}
//
// data is evaluated on every run with a `schedule` object holding name,
// at and time (RFC 3339).
type ScheduleDefinition struct {
	Name     string
	Timezone string            `hcl:"timezone,optional"`
	At       []*PushDefinition `hcl:"at,block"`

	DefRange hcl.Range
	Location *time.Location
}

type PushDefinition struct {
	Spec     string         `hcl:"spec,label"`
	Name     string         `hcl:"name,label"`
	Category string         `hcl:"category"`
	To       string         `hcl:"to,optional"`
	Data     hcl.Expression `hcl:"data"`
	DefRange hcl.Range      `hcl:",def_range"`
}

// Broadcaster delivers an event to connected clients whose subject matches
// the to pattern. *server.Listener implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, category realtime.Category, data any, to string) (int, error)
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type ScheduleBlockHandler struct {
	BlockHandlerBase
}

func NewScheduleBlockHandler() *ScheduleBlockHandler {
	return &ScheduleBlockHandler{}
}

func (h *ScheduleBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := &ScheduleDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, def)
	if diags.HasErrors() {
		return diags
	}

	// DecodeBody doesn't see the block's own labels
	def.Name = block.Labels[0]
	def.DefRange = block.DefRange

	if existing, exists := config.Schedules[def.Name]; exists {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Duplicate schedule",
			Detail:   fmt.Sprintf("Schedule %s is already defined at %v", def.Name, existing.DefRange),
			Subject:  &block.DefRange,
		})
	}

	if def.Timezone == "" {
		def.Timezone = "Local"
	}

	location, err := time.LoadLocation(def.Timezone)
	if err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid timezone",
			Detail:   fmt.Sprintf("Invalid timezone: %s", def.Timezone),
			Subject:  &block.DefRange,
		})
	}
	def.Location = location

	for _, at := range def.At {
		if _, err := cronParser.Parse(at.Spec); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid schedule",
				Detail:   fmt.Sprintf("Invalid cron spec %q: %s", at.Spec, err),
				Subject:  &at.DefRange,
			})
		}
		if _, err := realtime.ParseCategory(at.Category); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid category",
				Detail:   err.Error(),
				Subject:  &at.DefRange,
			})
		}
	}

	if diags.HasErrors() {
		return diags
	}

	config.Schedules[def.Name] = def
	return diags
}

// BuildSchedules returns one unstarted cron per schedule, with a job per
// at block that pushes through b.
func (c *Config) BuildSchedules(b Broadcaster) (map[string]*cron.Cron, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	crons := make(map[string]*cron.Cron, len(c.Schedules))

	for name, def := range c.Schedules {
		cronObj := cron.New(
			cron.WithLogger(NewZapCronLogger(c.Logger)),
			cron.WithParser(cronParser),
			cron.WithLocation(def.Location),
		)

		for _, at := range def.At {
			category, _ := realtime.ParseCategory(at.Category)
			push := &ScheduledPush{
				config:      c,
				broadcaster: b,
				schedule:    name,
				at:          at,
				category:    category,
				location:    def.Location,
			}

			if _, err := cronObj.AddJob(at.Spec, push); err != nil {
				diags = diags.Append(&hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid schedule",
					Detail:   fmt.Sprintf("Invalid cron spec %q: %s", at.Spec, err),
					Subject:  &at.DefRange,
				})
			}
		}

		crons[name] = cronObj
	}

	return crons, diags
}

// ScheduledPush is the cron job behind one at block.
type ScheduledPush struct {
	config      *Config
	broadcaster Broadcaster
	schedule    string
	at          *PushDefinition
	category    realtime.Category
	location    *time.Location
}

func (p *ScheduledPush) Run() {
	p.RunAt(time.Now())
}

// RunAt evaluates and broadcasts the push as if it fired at now.
func (p *ScheduledPush) RunAt(now time.Time) {
	logger := p.config.Logger.With(zap.String("schedule", p.schedule), zap.String("at", p.at.Name))

	evalCtx := p.config.evalCtx.NewChild()
	evalCtx.Variables = map[string]cty.Value{
		"schedule": cty.ObjectVal(map[string]cty.Value{
			"name": cty.StringVal(p.schedule),
			"at":   cty.StringVal(p.at.Name),
			"time": cty.StringVal(now.In(p.location).Format(time.RFC3339)),
		}),
	}

	value, diags := p.at.Data.Value(evalCtx)
	if diags.HasErrors() {
		logger.Error("Error evaluating scheduled push", zap.Error(diags))
		return
	}

	data, err := go2cty2go.CtyToAny(value)
	if err != nil {
		logger.Error("Error converting scheduled push data", zap.Error(err))
		return
	}

	delivered, err := p.broadcaster.Broadcast(context.Background(), p.category, data, p.at.To)
	if err != nil {
		logger.Error("Scheduled push failed", zap.Error(err))
		return
	}

	logger.Debug("Scheduled push sent", zap.String("category", string(p.category)), zap.Int("delivered", delivered))
}

// ZapCronLogger adapts a zap.Logger to implement the cron.Logger interface
type ZapCronLogger struct {
	logger *zap.Logger
}

func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	return &ZapCronLogger{logger: logger}
}

// Info logs cron's routine chatter at debug level.
func (z *ZapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, cronFields(keysAndValues)...)
}

func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.logger.Error(msg, append(cronFields(keysAndValues), zap.Error(err))...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}
