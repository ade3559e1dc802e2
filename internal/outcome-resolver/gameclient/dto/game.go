package dto

// GameExport é a resposta de GET /game/export/{id}
type GameExport struct {
	ID      string `json:"id,omitempty"`
	Rated   bool   `json:"rated"`
	Variant string `json:"variant,omitempty"`
	Speed   string `json:"speed,omitempty"`
	Perf    string `json:"perf,omitempty"`
	Status  string `json:"status" validate:"required"`
	Winner  string `json:"winner,omitempty" validate:"omitempty,oneof=white black"`
}

// Status em que a partida ainda não terminou
const (
	StatusCreated = "created"
	StatusStarted = "started"
)

func (g GameExport) InProgress() bool {
	return g.Status == StatusCreated || g.Status == StatusStarted
}
