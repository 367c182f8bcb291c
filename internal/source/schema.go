package source

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"friendwatch/internal/presence"
)

//go:embed batch.schema.json
var batchSchemaJSON []byte

const batchSchemaURL = "friendwatch://batch.schema.json"

var (
	batchSchemaOnce sync.Once
	batchSchema     *jsonschema.Schema
	batchSchemaErr  error
)

func compiledBatchSchema() (*jsonschema.Schema, error) {
	batchSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(batchSchemaJSON))
		if err != nil {
			batchSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(batchSchemaURL, doc); err != nil {
			batchSchemaErr = err
			return
		}
		batchSchema, batchSchemaErr = c.Compile(batchSchemaURL)
	})
	return batchSchema, batchSchemaErr
}

// DecodeBatch validates one spool line and decodes it.
func DecodeBatch(line []byte) (presence.Batch, error) {
	sch, err := compiledBatchSchema()
	if err != nil {
		return presence.Batch{}, fmt.Errorf("batch schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(line))
	if err != nil {
		return presence.Batch{}, fmt.Errorf("batch json: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return presence.Batch{}, fmt.Errorf("batch invalid: %w", err)
	}
	var b presence.Batch
	if err := json.Unmarshal(line, &b); err != nil {
		return presence.Batch{}, fmt.Errorf("batch decode: %w", err)
	}
	return b, nil
}
