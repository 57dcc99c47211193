package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"gopkg.in/yaml.v3"
)

// configSchema constrains the raw configuration document before it is
// decoded into Go types. Structural mistakes (bad ports, unknown severities,
// misspelled keys) surface here with CUE's path-aware error messages.
const configSchema = `
close({
	transport: close({
		tcp?: close({
			host:     string & !=""
			port:     int & >0 & <=65535
			unit_id?: int & >=0 & <=255
			timeout?: string
		})
		serial?: close({
			device:    string & !=""
			baud_rate: int & >0
			unit_id?:  int & >=0 & <=255
			timeout?:  string
		})
	})
	logging?: close({
		level?:  "trace" | "debug" | "info" | "warn" | "error"
		format?: "json" | "text"
		loki?: close({
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		})
	})
	telemetry?: close({
		enabled?: bool
		listen?:  string
	})
	driver?: close({
		status_poll_interval?: string
		status_poll_timeout?:  string
		auto_clear_trigger?:   bool
	})
	watch?: close({
		interval?: string
		rules?: [...close({
			name:      string & !=""
			expr:      string & !=""
			severity?: "info" | "warning" | "critical"
		})]
	})
})
`

func validateSchema(raw []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	value := schema.Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
