package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lnrouter/routerd/lntypes"
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/monitoring"
	"github.com/lnrouter/routerd/routerrpc"
	"github.com/lnrouter/routerd/routing"
	"github.com/lnrouter/routerd/routing/route"
)

var log btclog.Logger

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "routerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := defaultConfig()
	if _, err := flags.Parse(&cfg); err != nil {
		// The library already printed usage.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}

		return err
	}

	if err := setupLogging(cfg.DebugLevel); err != nil {
		return err
	}

	selfNode, err := route.NewVertexFromStr(cfg.SelfNode)
	if err != nil {
		return fmt.Errorf("invalid selfnode: %w", err)
	}

	graph := routing.NewChannelGraph()
	if cfg.GraphFile != "" {
		if err := loadGraph(cfg.GraphFile, graph); err != nil {
			return err
		}

		log.Infof("Loaded channel graph from %v", cfg.GraphFile)
	}

	feed := routing.NewUpdateFeed(graph)
	if err := feed.Start(); err != nil {
		return err
	}
	defer feed.Stop()

	router, err := routing.New(routing.Config{
		SelfNode: selfNode,
		Graph:    graph,
		Sender:   monitoring.NewInstrumentedSender(&unavailableSender{}),
	})
	if err != nil {
		return err
	}
	if err := router.Start(); err != nil {
		return err
	}
	defer func() {
		if err := router.Stop(); err != nil {
			log.Errorf("Unable to stop router: %v", err)
		}
	}()

	server, err := routerrpc.NewServer(&routerrpc.Config{
		Router: router,
		Clock:  clock.NewDefaultClock(),
	})
	if err != nil {
		return err
	}

	// In one-shot mode, resolve a route to the requested destination,
	// print it and exit.
	if cfg.Dest != "" {
		return resolveRoute(server, router, cfg)
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Infof("Prometheus listening on %v", cfg.Prometheus)

		if err := http.ListenAndServe(cfg.Prometheus, nil); err != nil {
			log.Errorf("Metrics listener exited: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("routerd active, self node %v", selfNode)
	<-shutdown

	log.Infof("Shutting down")

	return nil
}

// resolveRoute runs a single route and fee query against the loaded graph
// and prints the result.
func resolveRoute(server *routerrpc.Server, router *routing.ChannelRouter,
	cfg config) error {

	dest, err := route.NewVertexFromStr(cfg.Dest)
	if err != nil {
		return fmt.Errorf("invalid dest: %w", err)
	}

	amt := lnwire.MilliSatoshi(cfg.AmtMsat)

	rt, err := router.FindRoute(dest, amt, routing.UnrestrictedParams())
	if err != nil {
		return err
	}

	feeResp, err := server.EstimateRouteFee(
		context.Background(), &routerrpc.RouteFeeRequest{
			Dest:   dest,
			AmtSat: amt.ToSatoshis(),
		},
	)
	if err != nil {
		return err
	}

	fmt.Printf("route to %v for %v:\n", dest, amt)
	for _, hop := range rt.Hops {
		fmt.Printf("  chan %v -> %x forward %v lock %v\n",
			lnwire.NewShortChanIDFromInt(hop.ChannelID),
			hop.PubKeyBytes[:4], hop.AmtToForward,
			hop.OutgoingTimeLock)
	}
	fmt.Printf("total fees: %v, total time lock: %v\n",
		rt.TotalFees(), rt.TotalTimeLock)
	fmt.Printf("estimated fee: %v msat, time lock delay: %v\n",
		uint64(feeResp.RoutingFeeMsat), feeResp.TimeLockDelay)

	return nil
}

// setupLogging wires every package logger to a shared stdout backend at the
// requested level.
func setupLogging(level string) error {
	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %v", level)
	}

	backend := btclog.NewBackend(os.Stdout)

	newLogger := func(tag string) btclog.Logger {
		logger := backend.Logger(tag)
		logger.SetLevel(logLevel)

		return logger
	}

	log = newLogger("RTRD")
	routing.UseLogger(newLogger("RTNG"))
	routerrpc.UseLogger(newLogger("RRPC"))

	return nil
}

// unavailableSender stands in for the onion/transport layer until one is
// attached. Every attempt resolves with a local temporary node failure so
// payments terminate instead of hanging.
type unavailableSender struct{}

func (s *unavailableSender) SendAttempt(_ context.Context, _ lntypes.Hash,
	rt *route.Route) (lntypes.Preimage, error) {

	return lntypes.Preimage{}, &lnwire.Failure{
		Code:         lnwire.CodeTemporaryNodeFailure,
		SourcePubKey: [33]byte(rt.SourcePubKey),
	}
}
