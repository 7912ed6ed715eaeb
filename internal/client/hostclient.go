package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/adaxion/LibMythicPlus/internal/config"
	"github.com/adaxion/LibMythicPlus/internal/host"
	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Bridge command names.
const (
	CommandRequestMapInfo        = "request-map-info"
	CommandRequestCurrentAffixes = "request-current-affixes"
	CommandRequestRewards        = "request-rewards"
	CommandInspect               = "inspect"
	CommandClearInspect          = "clear-inspect"
)

// HostClient queries and commands the game client through its local HTTP bridge.
type HostClient struct {
	client *resty.Client
	logger *logrus.Logger
}

func NewHostClient(cfg *config.Config, logger *logrus.Logger) *HostClient {
	client := resty.New().
		SetBaseURL(cfg.HostAPIEndpoint).
		SetTimeout(cfg.HostAPITimeout).
		SetHeader("Accept", "application/json")
	if cfg.HostAPIKey != "" {
		client.SetAuthToken(cfg.HostAPIKey)
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &HostClient{
		client: client,
		logger: logger,
	}
}

// get decodes the JSON body of path into out.
func (h *HostClient) get(ctx context.Context, path string, out any) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		h.logger.WithError(err).WithField("path", path).Error("hostclient - bridge request failed")
		return err
	}
	return checkStatus(resp, path)
}

func (h *HostClient) command(ctx context.Context, name string, body any) error {
	path := "/commands/" + name
	req := h.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		h.logger.WithError(err).WithField("command", name).Error("hostclient - bridge command failed")
		return err
	}
	if err := checkStatus(resp, path); err != nil {
		return err
	}
	h.logger.WithField("command", name).Debug("hostclient - command sent")
	return nil
}

func checkStatus(resp *resty.Response, path string) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusTooEarly || code == http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w", path, host.ErrNotReady)
	case resp.IsError():
		return fmt.Errorf("hostclient - %s returned %s", path, resp.Status())
	}
	return nil
}

func (h *HostClient) RequestMapInfo(ctx context.Context) error {
	return h.command(ctx, CommandRequestMapInfo, nil)
}

func (h *HostClient) RequestCurrentAffixes(ctx context.Context) error {
	return h.command(ctx, CommandRequestCurrentAffixes, nil)
}

func (h *HostClient) RequestRewards(ctx context.Context) error {
	return h.command(ctx, CommandRequestRewards, nil)
}

// RequestInspect focuses the host's inspection on unit.
func (h *HostClient) RequestInspect(ctx context.Context, unit string) error {
	return h.command(ctx, CommandInspect, map[string]string{"unit": unit})
}

func (h *HostClient) ClearInspect(ctx context.Context) error {
	return h.command(ctx, CommandClearInspect, nil)
}

// CurrentSeason fetches the season identifier and whether the activity is available.
func (h *HostClient) CurrentSeason(ctx context.Context) (host.SeasonInfo, error) {
	var info host.SeasonInfo
	err := h.get(ctx, "/season", &info)
	return info, err
}

func (h *HostClient) CurrentAffixIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := h.get(ctx, "/affixes", &ids)
	return ids, err
}

func (h *HostClient) AffixDetail(ctx context.Context, id int) (model.Affix, error) {
	var affix model.Affix
	err := h.get(ctx, "/affixes/"+strconv.Itoa(id), &affix)
	return affix, err
}

func (h *HostClient) MapIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := h.get(ctx, "/maps", &ids)
	return ids, err
}

func (h *HostClient) MapDetail(ctx context.Context, id int) (model.MapInfo, error) {
	var info model.MapInfo
	err := h.get(ctx, "/maps/"+strconv.Itoa(id), &info)
	return info, err
}

func (h *HostClient) ActiveKeystone(ctx context.Context) (host.ActiveKeystone, error) {
	var k host.ActiveKeystone
	err := h.get(ctx, "/keystone/active", &k)
	return k, err
}

func (h *HostClient) OwnedKeystone(ctx context.Context) (model.OwnedKeystone, error) {
	var k model.OwnedKeystone
	err := h.get(ctx, "/keystone/owned", &k)
	return k, err
}

func (h *HostClient) SlottedKeystone(ctx context.Context) (model.SlottedKeystone, error) {
	var k model.SlottedKeystone
	err := h.get(ctx, "/keystone/slotted", &k)
	return k, err
}

func (h *HostClient) CompletionInfo(ctx context.Context) (model.CompletionInfo, error) {
	var info model.CompletionInfo
	err := h.get(ctx, "/completion", &info)
	return info, err
}

func (h *HostClient) DeathCount(ctx context.Context) (host.DeathCount, error) {
	var d host.DeathCount
	err := h.get(ctx, "/deaths", &d)
	return d, err
}

// GroupUnits lists the unit tokens currently in the local player's group.
func (h *HostClient) GroupUnits(ctx context.Context) ([]string, error) {
	var units []string
	err := h.get(ctx, "/group", &units)
	return units, err
}

func (h *HostClient) UnitInfo(ctx context.Context, unit string) (model.PartyMember, error) {
	var member model.PartyMember
	err := h.get(ctx, "/units/"+url.PathEscape(unit), &member)
	return member, err
}

// Inspect returns the inspection data the host holds for the unit with guid id.
func (h *HostClient) Inspect(ctx context.Context, id string) (host.InspectResult, error) {
	var result host.InspectResult
	err := h.get(ctx, "/inspect/"+url.PathEscape(id), &result)
	return result, err
}

func (h *HostClient) CurrentZone(ctx context.Context) (host.Zone, error) {
	var zone host.Zone
	err := h.get(ctx, "/zone", &zone)
	return zone, err
}
