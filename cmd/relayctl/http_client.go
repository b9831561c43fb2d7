package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

type envelope struct {
	Success   bool            `json:"success"`
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
	Data      json.RawMessage `json:"data"`
}

// getJSON fetches path from the relay's read API and decodes the data field
// of the response envelope into out.
func getJSON(base, path string, query url.Values, wait time.Duration, out interface{}) error {
	target := strings.TrimSuffix(base, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	agent := fiber.Get(target).Timeout(wait)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: status %d: %w", path, status, err)
	}
	if !env.Success {
		if env.ErrorCode != "" {
			return fmt.Errorf("%s: %s", env.ErrorCode, env.Message)
		}
		return fmt.Errorf("status %d: %s", status, env.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
