// ABOUTME: Health subcommand: probes the HTTP health endpoints and, when configured, gRPC health
// ABOUTME: Exits non-zero on the first failing probe

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/chatline/internal/gateway"
)

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)

	body, err := httpProbe(ctx, fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr))
	if err != nil {
		return err
	}
	green.Print("  ✓ ")
	fmt.Printf("HTTP: %s\n", body)

	if cfg.Server.GRPCAddr != "" {
		status, err := grpcProbe(ctx, cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		green.Print("  ✓ ")
		fmt.Printf("gRPC: %s\n", status)
	}

	fmt.Println("healthy")
	return nil
}

func httpProbe(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func grpcProbe(ctx context.Context, addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("dialing gRPC: %w", err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: gateway.HealthService})
	if err != nil {
		return "", fmt.Errorf("gRPC health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return "", fmt.Errorf("gRPC unhealthy: %s", resp.GetStatus())
	}
	return resp.GetStatus().String(), nil
}
