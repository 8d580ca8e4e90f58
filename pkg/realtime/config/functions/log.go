package functions

import (
	"fmt"

	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetLogFunctions returns log_debug, log_info, log_warn and log_error. Each
// takes a message and optional fields; a single object argument supplies
// named fields, anything else is logged as $1, $2 and so on.
func GetLogFunctions(logger *zap.Logger) map[string]function.Function {
	if logger == nil {
		logger = zap.NewNop()
	}

	return map[string]function.Function{
		"log_debug": makeLogFunc(logger, zapcore.DebugLevel),
		"log_info":  makeLogFunc(logger, zapcore.InfoLevel),
		"log_warn":  makeLogFunc(logger, zapcore.WarnLevel),
		"log_error": makeLogFunc(logger, zapcore.ErrorLevel),
	}
}

func makeLogFunc(logger *zap.Logger, level zapcore.Level) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "message", Type: cty.String},
		},
		VarParam: &function.Parameter{
			Name:      "fields",
			Type:      cty.DynamicPseudoType,
			AllowNull: true,
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			logger.Log(level, args[0].AsString(), logFields(args[1:])...)
			return cty.True, nil
		},
	})
}

func logFields(args []cty.Value) []zap.Field {
	if len(args) == 1 && !args[0].IsNull() && (args[0].Type().IsObjectType() || args[0].Type().IsMapType()) {
		if v, err := go2cty2go.CtyToAny(args[0]); err == nil {
			if m, ok := v.(map[string]any); ok {
				fields := make([]zap.Field, 0, len(m))
				for k, val := range m {
					fields = append(fields, zap.Any(k, val))
				}
				return fields
			}
		}
	}

	fields := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		key := fmt.Sprintf("$%d", i+1)
		if arg.IsNull() {
			fields = append(fields, zap.String(key, "<null>"))
			continue
		}
		v, err := go2cty2go.CtyToAny(arg)
		if err != nil {
			fields = append(fields, zap.String(key, arg.GoString()))
			continue
		}
		fields = append(fields, zap.Any(key, v))
	}
	return fields
}
