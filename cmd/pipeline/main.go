// Package main: pipeline service.
//
// Warning: The DB used by the microservice holds the tracked transaction records and should be the
// same database used by the tracker microservice, which updates those records on every poll cycle.
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
	"github.com/odiseolabs/txflow/lib/tx"
	"github.com/odiseolabs/txflow/lib/wallet"
	"github.com/odiseolabs/txflow/lib/wallet/local"
	"github.com/odiseolabs/txflow/pipeline"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBConn)
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

	// load the local signer from the HD seed
	signer, err := local.New(conf.Seed, conf.SignerAddress)
	if err != nil {
		panic(err)
	}

	// create pipeline service
	p := pipeline.New(conf.DBType, dbConn, mb, nc, conf.ChainID,
		tx.FeeConfig{GasLimit: conf.GasLimit, FeeAmount: conf.FeeAmount, FeeDenom: conf.FeeDenom},
		wallet.Session{ChainID: conf.ChainID, Address: conf.SignerAddress, Cap: signer})

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		p.StopPipeline()
		close(finish)
	}()

	// manage tracker events
	if err := p.ManageEvents(); err != nil {
		log.Printf("Error setting up broker readers for events:%e", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Pipeline: %s\n", p.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
