package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/couple.report/internal/api"
	"github.com/banshee-data/couple.report/internal/config"
	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/monitoring"
)

type serveOptions struct {
	listen     string
	grpcListen string
	dbPath     string
	cfg        *config.DetectionConfig
}

// listeners reports the bound addresses once the servers accept connections.
type listeners struct {
	http net.Addr
	grpc net.Addr
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	det := addDetectionFlags(fs)
	o := serveOptions{}
	fs.StringVar(&o.listen, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&o.grpcListen, "grpc-listen", "", "gRPC health service listen address (disabled when empty)")
	fs.StringVar(&o.dbPath, "db", "couples.db", "Path to the run database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := det.load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	return serve(ctx, o, nil)
}

func serve(ctx context.Context, o serveOptions, ready func(listeners)) error {
	database, err := db.NewDB(o.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	mux := api.NewServer(database, o.cfg).ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpLis, err := net.Listen("tcp", o.listen)
	if err != nil {
		return err
	}
	bound := listeners{http: httpLis.Addr()}

	var gs *grpc.Server
	var hs *health.Server
	var grpcLis net.Listener
	if o.grpcListen != "" {
		grpcLis, err = net.Listen("tcp", o.grpcListen)
		if err != nil {
			httpLis.Close()
			return err
		}
		gs = grpc.NewServer()
		hs = health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		bound.grpc = grpcLis.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitoring.Logf("HTTP server listening on %s", httpLis.Addr())
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if gs != nil {
		g.Go(func() error {
			monitoring.Logf("gRPC health service listening on %s", grpcLis.Addr())
			return gs.Serve(grpcLis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		monitoring.Logf("shutting down servers...")
		if hs != nil {
			hs.Shutdown()
			gs.GracefulStop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})

	if ready != nil {
		ready(bound)
	}
	err = g.Wait()
	monitoring.Logf("graceful shutdown complete")
	return err
}
