package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"HibiscusSOS/internal/broadcast"
	"HibiscusSOS/internal/coordinator"
	"HibiscusSOS/internal/listeners"
	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/store"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/util"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  sos-client create <category> <lat> <lng> <description...>
  sos-client respond <alert-id> <accepted|rejected>
  sos-client radius <alert-id> <meters>
  sos-client watch

environment: SOS_SERVER (default http://localhost:8080), SOS_USER_ID`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	base := util.GetEnvDefault("SOS_SERVER", "http://localhost:8080")
	session := transport.Session{UserID: util.GetEnv("SOS_USER_ID")}
	wsURL := strings.Replace(base, "http", "ws", 1) + "/api/ws"

	backend := transport.NewHTTPBackend(base+"/api", session, nil)
	st := store.NewAlertStore()
	listeners.InitAlertListeners(st)

	c, err := cache.NewCache(cache.Config{Type: "local"})
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	svc := broadcast.New(backend, st, c, session, broadcast.Options{})
	defer svc.Close()
	coord := coordinator.New(backend, st, session)

	tr := transport.NewTransport(backend, wsURL, session, transport.Options{})
	tr.Subscribe(models.EventNewAlert, svc.HandleAlert)
	tr.Subscribe(models.EventAlertClosed, svc.HandleAlert)
	tr.Subscribe(models.EventResponderUpdate, coord.HandleUpdate)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "create":
		if len(os.Args) < 5 {
			usage()
		}
		alert, err := svc.CreateAlert(ctx, broadcast.CreateAlertInput{
			Category:    models.Category(os.Args[2]),
			Origin:      &geo.Point{Lat: cast.ToFloat64(os.Args[3]), Lng: cast.ToFloat64(os.Args[4])},
			Description: strings.Join(os.Args[5:], " "),
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("alert %s created, radius %.0fm, %d candidates notified\n",
			alert.ID, alert.RadiusMeters, len(alert.Responders))

	case "respond":
		if len(os.Args) != 4 {
			usage()
		}
		status, err := coord.Respond(ctx, os.Args[2], models.ResponderStatus(os.Args[3]))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("response recorded: %s\n", status)

	case "radius":
		if len(os.Args) != 4 {
			usage()
		}
		alert, err := svc.SetBroadcastRadius(ctx, os.Args[2], cast.ToFloat64(os.Args[3]))
		if err != nil {
			fatal(err)
		}
		fmt.Printf("radius of %s now %.0fm\n", alert.ID, alert.RadiusMeters)

	case "watch":
		if err := tr.Connect(context.Background()); err != nil {
			logger.Warn("push channel degraded", zap.Error(err))
		}
		defer tr.Close()

		fmt.Println("watching for alerts, Ctrl-C to stop")
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

	default:
		usage()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
