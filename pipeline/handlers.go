package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/odiseolabs/txflow/lib/msg"
	"github.com/odiseolabs/txflow/lib/node"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/lib/tx"
	"github.com/odiseolabs/txflow/lib/wallet"
)

// TransferReq is the transfer request data required to run a transaction through the pipeline. From
// is optional and defaults to the service signer address. Fee overrides are optional, zero-valued
// fields fall back to the configured defaults.
type TransferReq struct {
	From          string       `json:"from,omitempty"`
	To            string       `json:"to"`
	Amount        string       `json:"amount"` // decimal string in base units
	CorrelationID string       `json:"correlationId"`
	ContentHash   string       `json:"contentHash"`
	Role          string       `json:"role"`
	Fee           tx.FeeConfig `json:"fee,omitempty"`
}

// TransferRes is replied to the client when a transfer has been accepted by the chain.
type TransferRes struct {
	TransactionID string `json:"transactionId"`
	TxHash        string `json:"txHash"`
	ExplorerURL   string `json:"explorerUrl"`
}

// Errors returned to client requests.
var (
	ErrBadMethod  = errors.New("bad method in request")
	ErrBadRequest = errors.New("bad request")
	ErrNoAddr     = errors.New("undefined address - missing in uri")
	ErrNoID       = errors.New("undefined transaction id - missing in uri")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// httpCode maps a classified pipeline error to the http status replied to the client.
func httpCode(err error) int {
	switch tx.KindOf(err) {
	case tx.AccountNotFound:
		return http.StatusNotFound
	case tx.InvalidAmount, tx.UnsupportedMsgType:
		return http.StatusBadRequest
	case tx.WalletUnavailable, tx.UserRejected, tx.SigningFailed:
		return http.StatusUnprocessableEntity
	case tx.BroadcastRejected, tx.SequenceMismatch:
		return http.StatusConflict
	case tx.NetworkError, tx.PollTimeout:
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}

// homeHandler just replies a welcome message to the client.
func (p *Pipeline) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your transfer pipeline!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// chainInfo is replied by chainHandler.
type chainInfo struct {
	ChainID string `json:"chainId"`
	Signer  string `json:"signer"`
	Denom   string `json:"denom"`
}

// chainHandler replies the chain the pipeline is connected to.
func (p *Pipeline) chainHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	ci := chainInfo{ChainID: p.chain, Signer: p.signer.Address, Denom: p.fee.FeeDenom}

	rw.WriteHeader(http.StatusOK)
	tmp, _ := json.Marshal(ci)
	res.Body = string(tmp)
	// log request
	log.Printf("httpreq from %v %s chain:%+v\n", r.RemoteAddr, r.RequestURI, ci)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// accountHandler resolves the requested address against the chain and replies its account number and
// sequence. Resolution is never served from a cache, the sequence must be fresh.
func (p *Pipeline) accountHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var acc tx.Account

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(httpCode(err))
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(acc)
			res.Body = string(tmp)
		}
		// log request and account
		log.Printf("httpreq from %v %s acc:%+v err:%e\n", r.RemoteAddr, r.RequestURI, acc, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	address, ok := v["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	acc, err = p.nc.Resolve(r.Context(), address)
}

// transferHandler runs a transfer request through the full pipeline: resolve, build, sign, convert
// and broadcast. A stale sequence triggers exactly one re-resolve and retry; signing is never
// retried. On success the transaction is saved to DB, a created event is published and the tracker is
// asked to follow it.
func (p *Pipeline) transferHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var req TransferReq

	var out TransferRes

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(httpCode(err))
		} else {
			rw.WriteHeader(http.StatusAccepted)
			tmp, _ := json.Marshal(out)
			res.Body = string(tmp)
		}
		// log request and tx hash
		log.Printf("httpreq from %v %s hash:%s err:%e\n", r.RemoteAddr, r.RequestURI, out.TxHash, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	// get request
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding transfer request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	from := req.From
	if from == "" {
		from = p.signer.Address
	}

	fee := req.Fee
	if fee.GasLimit == 0 {
		fee.GasLimit = p.fee.GasLimit
	}
	if fee.FeeAmount == "" {
		fee.FeeAmount = p.fee.FeeAmount
	}
	if fee.FeeDenom == "" {
		fee.FeeDenom = p.fee.FeeDenom
	}

	corr := tx.Correlation{ID: req.CorrelationID, ContentHash: req.ContentHash, Role: req.Role}

	var result node.BroadcastResult

	result, err = p.submit(r, from, req.To, req.Amount, fee, corr)
	if tx.KindOf(err) == tx.SequenceMismatch {
		// the sequence went stale between resolve and broadcast, re-resolve once and rebuild
		log.Printf("[%s] Sequence mismatch for %s, retrying once", p.chain, from)
		result, err = p.submit(r, from, req.To, req.Amount, fee, corr)
	}

	if err != nil {
		return
	}

	out = TransferRes{TransactionID: req.CorrelationID, TxHash: result.TxHash, ExplorerURL: result.ExplorerURL}

	// save the accepted transaction so status reads and tracking have a record
	tracked := store.TrackedTransaction{
		ID:               req.CorrelationID,
		Status:           store.StatusPending,
		Signatures:       map[string]string{req.Role: store.SigSigned},
		ContentHash:      req.ContentHash,
		BlockchainTxHash: result.TxHash,
		ExplorerURL:      result.ExplorerURL,
		CreatedAt:        time.Now().UTC(),
	}
	if errSave := p.db.SaveTracked(tracked); errSave != nil {
		log.Printf("[%s] Error saving transaction %s to DB %e", p.chain, tracked.ID, errSave)
	}

	// publish the created event and ask the tracker to follow the transaction to confirmation
	if errEve := p.mb.SendCreated(p.chain, msg.CreatedEvent{
		TransactionID: req.CorrelationID,
		Hash:          result.TxHash,
		Type:          "transfer",
	}); errEve != nil {
		log.Printf("[%s] Error sending created event for %s %e", p.chain, req.CorrelationID, errEve)
	}

	if errTr := p.mb.SendTrackReq(p.chain, msg.TrackReq{
		Chain: p.chain,
		TxID:  req.CorrelationID,
		Act:   msg.ActStart,
	}); errTr != nil {
		log.Printf("[%s] Error sending tracking request for %s %e", p.chain, req.CorrelationID, errTr)
	}
}

// submit performs one resolve-build-sign-convert-broadcast cycle. Each cycle resolves the account
// fresh so a retry after a sequence mismatch picks up the advanced sequence.
func (p *Pipeline) submit(r *http.Request, from, to, amount string, fee tx.FeeConfig,
	corr tx.Correlation) (node.BroadcastResult, error) {
	// resolve the signer account for fresh sequence data
	acc, err := p.nc.Resolve(r.Context(), from)
	if err != nil {
		return node.BroadcastResult{}, err
	}

	// build the unsigned transaction
	unsigned, err := tx.Build(p.chain, acc, to, amount, fee, corr)
	if err != nil {
		return node.BroadcastResult{}, err
	}

	// sign it, exactly one signing attempt per cycle
	env, err := wallet.Sign(r.Context(), p.signer, unsigned)
	if err != nil {
		return node.BroadcastResult{}, err
	}

	// convert the signed messages to the broadcast encoding
	bmsgs, err := tx.ConvertAll(env.Signed.Msgs)
	if err != nil {
		return node.BroadcastResult{}, err
	}

	// broadcast, never retried from here down
	return p.nc.Broadcast(r.Context(), node.BroadcastTx{
		Msg:        bmsgs,
		Fee:        env.Signed.Fee,
		Signatures: []tx.StdSignature{env.Signature},
		Memo:       env.Signed.Memo,
	})
}

// txStatusHandler replies the status of the transaction. The local record is preferred; when none
// exists the chain endpoint is queried through the response cache, so bursts of status reads do not
// hammer the node.
func (p *Pipeline) txStatusHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var body []byte

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			if errors.Is(err, store.ErrTxNotFound) {
				rw.WriteHeader(http.StatusNotFound)
			} else {
				rw.WriteHeader(httpCode(err))
			}
		} else {
			rw.WriteHeader(http.StatusOK)
			res.Body = string(body)
		}
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	if tracked, errDB := p.db.GetTracked(id); errDB == nil {
		body, _ = json.Marshal(tracked)

		return
	}

	var ts *node.TxStatus

	if ts, err = p.nc.StatusCached(r.Context(), id); err == nil {
		body, _ = json.Marshal(ts)
	}
}

// txDeleteHandler forgets a tracked transaction: the tracker is told to stop watching it and the
// record is removed from DB.
func (p *Pipeline) txDeleteHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			if errors.Is(err, store.ErrTxNotFound) {
				rw.WriteHeader(http.StatusNotFound)
			} else {
				rw.WriteHeader(http.StatusBadRequest)
			}
		} else {
			rw.WriteHeader(http.StatusAccepted)
		}
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	// stop the watcher first so it does not resurrect the record with a late save
	if errTr := p.mb.SendTrackReq(p.chain, msg.TrackReq{Chain: p.chain, TxID: id, Act: msg.ActStop}); errTr != nil {
		log.Printf("[%s] Error sending tracking request for %s %e", p.chain, id, errTr)
	}

	err = p.db.RemoveTracked(id)
}

// trackHandler sends a tracking request message to the broker to start or stop watching a
// transaction. A request accepted status will be replied or an error otherwise.
func (p *Pipeline) trackHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusAccepted)
		}
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)
	id, ok := v["id"]
	if !ok {
		err = ErrNoID

		return
	}

	var req msg.TrackReq = msg.TrackReq{Chain: p.chain, TxID: id}

	switch r.Method {
	case "POST":
		req.Act = msg.ActStart
	case "DELETE":
		req.Act = msg.ActStop
	default:
		err = ErrBadMethod
	}
	// send message to broker
	if err == nil {
		err = p.mb.SendTrackReq(p.chain, req)
	}
}
