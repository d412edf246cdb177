package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Upload binds a file to a variable path such as "variables.files.0". The
// variable itself must be present (as null) in Operation.Variables.
type Upload struct {
	Variable string
	File     File
}

// Operation is one GraphQL request.
type Operation struct {
	Name      string
	Query     string
	Variables map[string]any
	Uploads   []Upload
}

type gqlRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Do runs op through Call and decodes the data member into out. Operations
// with uploads use the GraphQL multipart request convention.
func (g *Gateway) Do(ctx context.Context, op Operation, out any) error {
	body := gqlRequest{OperationName: op.Name, Query: op.Query, Variables: op.Variables}
	req := Request{Method: http.MethodPost, Path: g.graphqlPath}

	if len(op.Uploads) == 0 {
		req.Body = body
	} else {
		operations, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode operations: %w", err)
		}
		fileMap := make(map[string][]string, len(op.Uploads))
		for i, u := range op.Uploads {
			field := strconv.Itoa(i)
			fileMap[field] = []string{u.Variable}
			f := u.File
			f.Field = field
			req.Files = append(req.Files, f)
		}
		mapJSON, err := json.Marshal(fileMap)
		if err != nil {
			return fmt.Errorf("encode upload map: %w", err)
		}
		req.Form = map[string]string{
			"operations": string(operations),
			"map":        string(mapJSON),
		}
	}

	resp, err := g.Call(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", op.Name, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%s: response has no data", op.Name)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", op.Name, err)
	}
	return nil
}
