package lpgeo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

const maxBody = 64 << 10

// IPAPI interroge ip-api.com, réponse JSON avec status == "success"
type IPAPI struct {
	BaseURL string
	Client  *http.Client
}

func (p *IPAPI) Name() string { return "ip-api" }

func (p *IPAPI) Lookup(ctx context.Context, ip netip.Addr) (Location, error) {
	body, err := get(ctx, p.Client, strings.TrimRight(p.BaseURL, "/")+"/"+url.PathEscape(ip.String()))
	if err != nil {
		return Location{}, err
	}

	var data struct {
		Status     string `json:"status"`
		Message    string `json:"message"`
		City       string `json:"city"`
		RegionName string `json:"regionName"`
		Country    string `json:"country"`
		ISP        string `json:"isp"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Location{}, fmt.Errorf("ip-api: réponse illisible: %w", err)
	}
	if data.Status != "success" {
		return Location{}, fmt.Errorf("ip-api: status %q %s", data.Status, data.Message)
	}

	return Location{
		City:    data.City,
		Region:  data.RegionName,
		Country: data.Country,
		ISP:     data.ISP,
	}, nil
}

// HackerTarget répond en texte "Clé: valeur", sans fournisseur d'accès
type HackerTarget struct {
	BaseURL string
	Client  *http.Client
}

func (p *HackerTarget) Name() string { return "hackertarget" }

func (p *HackerTarget) Lookup(ctx context.Context, ip netip.Addr) (Location, error) {
	body, err := get(ctx, p.Client, p.BaseURL+"?q="+url.QueryEscape(ip.String()))
	if err != nil {
		return Location{}, err
	}

	data := parseKeyValues(string(body))
	if len(data) == 0 {
		return Location{}, fmt.Errorf("hackertarget: %w", ErrNoData)
	}

	return Location{
		City:    data["City"],
		Region:  data["State"],
		Country: data["Country"],
		// pas de fournisseur, l'IP sert d'indication
		ISP: data["IP"],
	}, nil
}

func parseKeyValues(text string) map[string]string {
	data := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		data[key] = strings.TrimSpace(value)
	}
	return data
}

func get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d", req.URL.Host, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}
