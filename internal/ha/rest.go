package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// PostState creates or updates an entity through the REST states API. Entities
// posted this way live outside any integration, which is exactly what we want
// for externally sourced utility data.
func (c *Client) PostState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error {
	body, err := json.Marshal(stateBody{
		State:      state,
		Attributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", entityID, err)
	}

	url := c.baseURL + "/api/states/" + entityID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build state request for %s: %w", entityID, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 200 on update, 201 on first creation
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post state for %s: status %d", entityID, resp.StatusCode)
	}

	c.logger.Debug("Posted entity state",
		zap.String("entity_id", entityID),
		zap.String("state", state))
	return nil
}
