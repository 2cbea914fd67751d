package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/scmforge/scmcore/content"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// batchObjectReq is one entry of a batch request's "objects" array.
type batchObjectReq struct {
	Oid  string `json:"oid"`
	Size int64  `json:"size"`
}

// batchRequest is the Git-LFS batch API request body.
type batchRequest struct {
	Operation string           `json:"operation"` // "download" or "upload"
	Transfers []string         `json:"transfers,omitempty"`
	Objects   []batchObjectReq `json:"objects"`
}

// BatchAction is one action ("download"/"upload"/"verify") on a batch
// response object.
type BatchAction struct {
	Href      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresIn int               `json:"expires_in,omitempty"`
}

// BatchObjectError is the per-object error envelope the server may return
// instead of actions (e.g. object not found, or redacted).
type BatchObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BatchObjectResp is one entry of a batch response's "objects" array.
type BatchObjectResp struct {
	Oid     string                 `json:"oid"`
	Size    int64                  `json:"size"`
	Actions map[string]BatchAction `json:"actions,omitempty"`
	Error   *BatchObjectError      `json:"error,omitempty"`
}

// batchResponse is the Git-LFS batch API response body.
type batchResponse struct {
	Transfer string            `json:"transfer,omitempty"`
	Objects  []BatchObjectResp `json:"objects"`
}

// Object identifies one blob for a batch call.
type Object struct {
	Sha256 content.Hash
	Size   int64
}

// Operation selects download or upload semantics for Batch.
type Operation string

const (
	OpDownload Operation = "download"
	OpUpload   Operation = "upload"
)

// Batch posts a Git-LFS batch request and returns the per-object actions
// (or per-object errors) the server assigned.
func Batch(ctx context.Context, hc *http.Client, baseURL string, op Operation, objects []Object) ([]BatchObjectResp, error) {
	req := batchRequest{Operation: string(op), Transfers: []string{"basic"}}
	for _, o := range objects {
		req.Objects = append(req.Objects, batchObjectReq{Oid: o.Sha256.Hex(), Size: o.Size})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("lfs client: encoding batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/objects/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	httpReq.Header.Set("Accept", "application/vnd.git-lfs+json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, classifyAndWrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusErr(resp.StatusCode)
	}

	var out batchResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("lfs client: decoding batch response: %w", err)
	}
	return out.Objects, nil
}
