package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/radieske/wager-settlement-platform/internal/outcome-resolver/gameclient/dto"
)

var (
	// ErrMatchNotFound: o serviço respondeu 404. Não é falha, a partida pode ainda não existir
	ErrMatchNotFound = errors.New("match not found")
	ErrMalformed     = errors.New("malformed game payload")
)

// DefaultExportPath é o prefixo do recurso de partida; o id vai no final
const DefaultExportPath = "/game/export/"

type Client struct {
	BaseURL    string
	ExportPath string
	HTTP       *http.Client
	validate   *validator.Validate
}

func New(base string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(base, "/"),
		ExportPath: DefaultExportPath,
		HTTP:       &http.Client{Timeout: timeout},
		validate:   validator.New(),
	}
}

// Export busca o estado atual da partida
func (c *Client) Export(ctx context.Context, matchID string) (dto.GameExport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+c.exportPath()+url.PathEscape(matchID), nil)
	if err != nil {
		return dto.GameExport{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return dto.GameExport{}, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return dto.GameExport{}, ErrMatchNotFound
	}
	if res.StatusCode >= 300 {
		return dto.GameExport{}, fmt.Errorf("game export http %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return dto.GameExport{}, err
	}
	var out dto.GameExport
	if err := json.Unmarshal(body, &out); err != nil {
		return dto.GameExport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return dto.GameExport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// exportPath normaliza o prefixo para "/<prefixo>/"
func (c *Client) exportPath() string {
	p := strings.Trim(c.ExportPath, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
