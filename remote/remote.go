// Package remote sends commands to the agent each instance exposes once its
// startup script has brought the host up.
package remote

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

// Agent responses can take minutes when the startup script is still busy.
const commandTimeout = 300 * time.Second

type Client struct {
	client *http.Client
}

func NewClient() *Client {
	return &Client{
		client: &http.Client{Timeout: commandTimeout},
	}
}

// Send runs a command on the agent listening at address, authenticated with
// the instance's rpc key. It returns the agent's HTTP status and raw body;
// interpreting them is the caller's business. An error means no response was
// received at all.
func (c *Client) Send(address string, command string, key string) (int, string, error) {
	logger := log.WithFields(log.Fields{"package": "remote", "event": "send_command", "address": address})

	query := url.Values{}
	query.Set("command", command)
	query.Set("key", key)

	request, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/call?%s", address, query.Encode()), nil)
	if err != nil {
		logger.Error(err.Error())
		return 0, "", err
	}
	request.Header.Set("Cache-Control", "max-age=0")

	response, err := c.client.Do(request)
	if err != nil {
		// Connection failures are routine while an instance is still booting.
		logger.Debug(err.Error())
		return 0, "", err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		logger.Error(err.Error())
		return 0, "", err
	}

	return response.StatusCode, string(body), nil
}
