package backend

import (
	"context"
	"net/http"
	"net/url"
)

// --- Agents ---

func (c *Client) ListAgents(ctx context.Context, boardID string, limit, offset int) (Page[Agent], error) {
	q := pageQuery(limit, offset)
	if boardID != "" {
		q.Set("board_id", boardID)
	}
	var page Page[Agent]
	err := c.do(ctx, http.MethodGet, "/agents", q, nil, &page)
	return page, err
}

func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var a Agent
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, nil, &a)
	return a, err
}

func (c *Client) CreateAgent(ctx context.Context, in AgentInput) (Agent, error) {
	var a Agent
	err := c.do(ctx, http.MethodPost, "/agents", nil, in, &a)
	return a, err
}

func (c *Client) UpdateAgent(ctx context.Context, id string, in AgentInput) (Agent, error) {
	var a Agent
	err := c.do(ctx, http.MethodPatch, "/agents/"+url.PathEscape(id), nil, in, &a)
	return a, err
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil, nil)
}

// --- Gateways ---

func (c *Client) ListGateways(ctx context.Context, limit, offset int) (Page[Gateway], error) {
	var page Page[Gateway]
	err := c.do(ctx, http.MethodGet, "/gateways", pageQuery(limit, offset), nil, &page)
	return page, err
}

func (c *Client) GetGateway(ctx context.Context, id string) (Gateway, error) {
	var g Gateway
	err := c.do(ctx, http.MethodGet, "/gateways/"+url.PathEscape(id), nil, nil, &g)
	return g, err
}

func (c *Client) CreateGateway(ctx context.Context, in GatewayInput) (Gateway, error) {
	var g Gateway
	err := c.do(ctx, http.MethodPost, "/gateways", nil, in, &g)
	return g, err
}

func (c *Client) UpdateGateway(ctx context.Context, id string, in GatewayInput) (Gateway, error) {
	var g Gateway
	err := c.do(ctx, http.MethodPatch, "/gateways/"+url.PathEscape(id), nil, in, &g)
	return g, err
}

func (c *Client) DeleteGateway(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/gateways/"+url.PathEscape(id), nil, nil, nil)
}
