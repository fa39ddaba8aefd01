// package main: tracker service
//
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odiseolabs/txflow/lib/config"
	"github.com/odiseolabs/txflow/lib/msg"
	"github.com/odiseolabs/txflow/lib/msg/amqp"
	"github.com/odiseolabs/txflow/lib/node"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/lib/store/db"
	"github.com/odiseolabs/txflow/tracker"
	"github.com/odiseolabs/txflow/tracker/txwatcher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB
	if conf.DBConn != "" {
		log.Printf("Connecting to database:%+v\n", conf.DBConn)
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}
	}

	// connect the chain node client
	nc := node.New(conf.Node, conf.Explorer)
	log.Printf("Chain node client loaded for %s", conf.ChainID)

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.Broker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %e", errClose)
		}()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create tracker service
	e := tracker.New(conf.ChainID, conf.DBType, dbConn, mb, nc, txwatcher.Config{
		Interval:    time.Duration(conf.PollInterval) * time.Second,
		MaxAttempts: conf.MaxAttempts,
	})

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		e.StopTracker()
		close(finish)
	}()

	// resume pending transactions and consume tracking requests
	if err = e.Track(); err != nil {
		panic(err)
	}

	<-finish
}
