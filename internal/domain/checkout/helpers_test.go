package checkout

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"velofood-client-go/internal/api"
)

func decodeDocument(body string) (api.Document, error) {
	doc := api.Document{}
	if err := sonic.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeBody(r *http.Request) (api.Document, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return decodeDocument(string(raw))
}
