package config

import "github.com/hashicorp/hcl/v2"

type BlockHandler interface {
	Preprocess(block *hcl.Block) hcl.Diagnostics
	FinishPreprocessing(config *Config) hcl.Diagnostics
	Process(config *Config, block *hcl.Block) hcl.Diagnostics
}

type BlockHandlerBase struct {
}

func (b *BlockHandlerBase) Preprocess(block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishPreprocessing(config *Config) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	return nil
}

func GetBlockHandlers() map[string]BlockHandler {
	return map[string]BlockHandler{
		"assert":   NewAssertBlockHandler(),
		"client":   NewClientBlockHandler(),
		"const":    NewConstBlockHandler(),
		"schedule": NewScheduleBlockHandler(),
		"server":   NewServerBlockHandler(),
	}
}

var blockSchema = []hcl.BlockHeaderSchema{
	{
		Type:       "assert",
		LabelNames: []string{"name"},
	},
	{
		Type:       "client",
		LabelNames: []string{},
	},
	{
		Type:       "const",
		LabelNames: []string{},
	},
	{
		Type:       "schedule",
		LabelNames: []string{"name"},
	},
	{
		Type:       "server",
		LabelNames: []string{},
	},
}

var configSchema = &hcl.BodySchema{
	Blocks: blockSchema,
}

// singleBlock reports a second occurrence of a block type that may only
// appear once.
func singleBlock(block *hcl.Block, first *hcl.Range) hcl.Diagnostics {
	if first == nil {
		return nil
	}
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  "Duplicate " + block.Type + " block",
		Detail:   "Only one " + block.Type + " block is allowed; the first is at " + first.String(),
		Subject:  &block.DefRange,
	}}
}
