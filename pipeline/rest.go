package pipeline

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// router builds the API definition.
func (p *Pipeline) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", p.homeHandler)
	r.HandleFunc("/chain", p.chainHandler).Methods("GET")                  // get chain information
	r.HandleFunc("/account/{address}", p.accountHandler).Methods("GET")    // resolve account data
	r.HandleFunc("/transfer", p.transferHandler).Methods("POST")           // run a transfer through the pipeline
	r.HandleFunc("/transaction/{id}", p.txStatusHandler).Methods("GET")    // get transaction status
	r.HandleFunc("/transaction/{id}", p.txDeleteHandler).Methods("DELETE") // forget a tracked transaction
	r.HandleFunc("/track/{id}", p.trackHandler).Methods("POST", "DELETE")  // start or stop tracking

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for a pipeline service.
// If sslPort, sslCert and sslKey are informed, it will start an https (TLS) server on the specified
// endpoint.
func (p *Pipeline) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := p.router()
	http.Handle("/", r)

	// setup shutdown channel
	p.sc = make(chan struct{})

	// start http server
	if port != "" {
		p.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = p.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		p.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = p.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-p.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
