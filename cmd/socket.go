package cmd

import (
	"context"
	"errors"
	"net"

	"github.com/foomo/storysync/pkg/handler"
	"github.com/foomo/keel"
	"github.com/foomo/keel/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewSocketCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Start socket server with the story routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svr := keel.NewServer(
				keel.WithHTTPPrometheusService(servicePrometheusEnabledFlag(v)),
				keel.WithHTTPHealthzService(serviceHealthzEnabledFlag(v)),
				keel.WithPrometheusMeter(servicePrometheusEnabledFlag(v)),
				keel.WithGracefulPeriod(gracefulPeriodFlag(v)),
				keel.WithOTLPGRPCTracer(otelEnabledFlag(v)),
				keel.WithHTTPPProfService(servicePProfEnabledFlag(v)),
			)

			l := svr.Logger()

			c, err := newComponents(cmd.Context(), v, l)
			if err != nil {
				return err
			}
			svr.AddClosers(c.Close)

			// create socket server
			handle := handler.NewSocket(l.Named("inst.handler"), c.service)

			svr.AddServices(
				service.NewGoRoutine(l.Named("go.netstate"), "netstate", func(ctx context.Context, l *zap.Logger) error {
					return c.monitor.PollRoutine(ctx)
				}),
				service.NewGoRoutine(l.Named("go.socket"), "socket", func(ctx context.Context, l *zap.Logger) error {
					return serveSocket(ctx, l, addressFlag(v), handle)
				}),
			)

			svr.Run()
			return nil
		},
	}

	flags := cmd.Flags()
	addAddressFlag(flags, v, ":8081")
	addServerFlags(flags, v)

	return cmd
}

func serveSocket(ctx context.Context, l *zap.Logger, address string, handle *handler.Socket) error {
	// listen on socket
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.Info("started listening", zap.String("address", address))

	for {
		// this blocks until connection or error
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			l.Debug("routine canceled", zap.Error(ctx.Err()))
			return nil
		} else if err != nil {
			l.Error("could not accept connection", zap.Error(err))
			continue
		}

		// a goroutine handles conn so that the loop can accept other connections
		go func() {
			l.Debug("accepted connection", zap.String("source", conn.RemoteAddr().String()))
			handle.Serve(ctx, conn)
		}()
	}
}
