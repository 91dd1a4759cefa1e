// services/lichess_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// LichessClient is the attestation client: it fetches concluded game records
// and confirms that usernames exist on the platform. It holds a read-only
// token only because lichess rate-limits anonymous callers harder.
type LichessClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewLichessClient(baseURL, token string) *LichessClient {
	if baseURL == "" {
		baseURL = "https://lichess.org"
	}
	return &LichessClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// lichessGame is the subset of the lichess game export payload we read.
type lichessGame struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Winner  string `json:"winner"`
	Players struct {
		White lichessPlayer `json:"white"`
		Black lichessPlayer `json:"black"`
	} `json:"players"`
}

type lichessPlayer struct {
	User *struct {
		Name string `json:"name"`
	} `json:"user"`
	Name string `json:"name"` // anonymous players carry a bare name
}

func (p lichessPlayer) username() string {
	if p.User != nil {
		return p.User.Name
	}
	return p.Name
}

// FetchGame calls /game/export/{id} and returns the attested record.
func (c *LichessClient) FetchGame(ctx context.Context, lichessGameID string) (*AttestedGame, error) {
	url := fmt.Sprintf("%s/game/export/%s", c.BaseURL, lichessGameID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lichess request")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call lichess")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		log.Printf("[LICHESS] game export %s returned %d: %.200s", lichessGameID, resp.StatusCode, string(body))
		return nil, fmt.Errorf("lichess game export returned %d", resp.StatusCode)
	}

	var game lichessGame
	if err := json.Unmarshal(body, &game); err != nil {
		return nil, errors.Wrap(err, "failed to decode lichess game export")
	}

	return &AttestedGame{
		ID:     game.ID,
		Status: game.Status,
		Winner: game.Winner,
		White:  game.Players.White.username(),
		Black:  game.Players.Black.username(),
	}, nil
}

// UserExists calls /api/user/{username}. A 404 means the identity does not
// resolve; any other non-200 is a transport failure, not a verdict.
func (c *LichessClient) UserExists(ctx context.Context, username string) (bool, error) {
	url := fmt.Sprintf("%s/api/user/%s", c.BaseURL, username)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to create lichess request")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "failed to call lichess")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("lichess user lookup returned %d", resp.StatusCode)
	}
}
