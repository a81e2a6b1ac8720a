package nodes

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	flowrun "flowrun"
)

const (
	KindStart        = "start"
	KindString       = "string"
	KindMerge        = "merge"
	KindIf           = "if"
	KindLLMRouter    = "llm_router"
	KindSetVariable  = "set_variable"
	KindGetVariable  = "get_variable"
	KindLLM          = "llm"
	KindLLMStream    = "llm_stream"
	KindSubFlow      = "sub_flow"
	KindEnd          = "end"
	KindCode         = "code"
	KindDelay        = "delay"
	KindLog          = "log"
	KindSlashCommand = "slash_command"
	KindHTTPRequest  = "http_request"
)

// decodeData maps node data onto a typed config using json tags.
func decodeData(data flowrun.NodeData, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(data)); err != nil {
		return fmt.Errorf("decode node data: %w", err)
	}
	return nil
}
