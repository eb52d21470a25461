package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app     = kingpin.New("gatectl", "Authorize this machine on a portgate relay, or list authorized IPs.")
	server  = app.Flag("server", "portgate control address (host:port).").Short('s').Required().String()
	timeout = app.Flag("timeout", "HTTP request timeout.").Default("10s").Duration()

	authorizeCmd = app.Command("authorize", "Authorize the IP this request comes from.")
	secret       = authorizeCmd.Flag("secret", "Shared secret path segment.").Required().String()

	listCmd = app.Command("list", "Print authorized IPs, one per line.")
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &client{base: baseURL(*server), http: http.DefaultClient}
	var err error
	switch cmd {
	case authorizeCmd.FullCommand():
		var msg string
		if msg, err = c.authorize(ctx, *secret); err == nil {
			fmt.Println(msg)
		}
	case listCmd.FullCommand():
		var ips []string
		if ips, err = c.list(ctx); err == nil {
			sort.Strings(ips)
			for _, ip := range ips {
				fmt.Println(ip)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatectl: %v\n", err)
		os.Exit(1)
	}
}

func baseURL(server string) string {
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return strings.TrimSuffix(server, "/")
	}
	return "http://" + server
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *client) authorize(ctx context.Context, secret string) (string, error) {
	body, err := c.get(ctx, "/"+url.PathEscape(secret))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *client) list(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/list")
	if err != nil {
		return nil, err
	}
	var ips []string
	if err := json.Unmarshal(body, &ips); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return ips, nil
}
