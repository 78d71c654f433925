package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse is returned when a peer's answer cannot be
// reconstructed: unknown class name, invalid JSON, or missing required
// fields. Callers treat it the same as the peer giving no answer.
var ErrMalformedResponse = errors.New("malformed response")

// Class names tag every message on the wire. The RPC method for a
// request is "forward" + class name.
const (
	ClassHealthCheckSynapse   = "HealthCheckSynapse"
	ClassHealthCheckResponse  = "HealthCheckResponse"
	ClassPoolEventSynapse     = "PoolEventSynapse"
	ClassPoolEventResponse    = "PoolEventResponse"
	ClassSignalEventSynapse   = "SignalEventSynapse"
	ClassSignalEventResponse  = "SignalEventResponse"
	ClassPredictionSynapse    = "PredictionSynapse"
	ClassPredictionResponse   = "PredictionResponse"
)

// Synapse is a protocol request.
type Synapse interface {
	ClassName() string
}

// Response is a protocol answer.
type Response interface {
	ClassName() string
}

// HealthCheckSynapse asks a miner how far its local index reaches.
type HealthCheckSynapse struct {
	Class string `json:"class_name"`
}

func NewHealthCheckSynapse() *HealthCheckSynapse {
	return &HealthCheckSynapse{Class: ClassHealthCheckSynapse}
}

func (s *HealthCheckSynapse) ClassName() string { return ClassHealthCheckSynapse }

// HealthCheckResponse reports the end of the miner's last completed
// sync window and the pools it serves.
type HealthCheckResponse struct {
	Class         string   `json:"class_name"`
	TimeCompleted int64    `json:"time_completed"`
	PoolAddresses []string `json:"pool_addresses"`
}

func NewHealthCheckResponse(timeCompleted int64, pools []string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Class:         ClassHealthCheckResponse,
		TimeCompleted: timeCompleted,
		PoolAddresses: pools,
	}
}

func (r *HealthCheckResponse) ClassName() string { return ClassHealthCheckResponse }

// PoolEventSynapse asks for every pool event in a time range.
type PoolEventSynapse struct {
	Class         string `json:"class_name"`
	PoolAddress   string `json:"pool_address"`
	StartDatetime int64  `json:"start_datetime"`
	EndDatetime   int64  `json:"end_datetime"`
}

func NewPoolEventSynapse(pool string, start, end int64) *PoolEventSynapse {
	return &PoolEventSynapse{
		Class:         ClassPoolEventSynapse,
		PoolAddress:   pool,
		StartDatetime: start,
		EndDatetime:   end,
	}
}

func (s *PoolEventSynapse) ClassName() string { return ClassPoolEventSynapse }

// PoolEventRecord is one on-chain event as it rides the wire. Large
// numeric fields stay decimal strings; they are never coerced through
// floating point.
type PoolEventRecord struct {
	EventType       string            `json:"event_type"`
	TransactionHash string            `json:"transaction_hash"`
	PoolAddress     string            `json:"pool_address"`
	BlockNumber     int64             `json:"block_number"`
	Fields          map[string]string `json:"fields,omitempty"`
}

// PoolEventResponse carries bulk event data plus an integrity digest of
// the payload so a verifier can cheaply reject a tampered answer.
type PoolEventResponse struct {
	Class           string            `json:"class_name"`
	Data            []PoolEventRecord `json:"data"`
	OverallDataHash string            `json:"overall_data_hash"`
}

func NewPoolEventResponse(data []PoolEventRecord) (*PoolEventResponse, error) {
	digest, err := PayloadDigest(data)
	if err != nil {
		return nil, fmt.Errorf("computing payload digest: %w", err)
	}
	return &PoolEventResponse{
		Class:           ClassPoolEventResponse,
		Data:            data,
		OverallDataHash: digest,
	}, nil
}

func (r *PoolEventResponse) ClassName() string { return ClassPoolEventResponse }

// SignalEventSynapse asks for the scalar signals of one pool at one
// timestamp.
type SignalEventSynapse struct {
	Class       string `json:"class_name"`
	PoolAddress string `json:"pool_address"`
	Timestamp   int64  `json:"timestamp"`
}

func NewSignalEventSynapse(pool string, timestamp int64) *SignalEventSynapse {
	return &SignalEventSynapse{
		Class:       ClassSignalEventSynapse,
		PoolAddress: pool,
		Timestamp:   timestamp,
	}
}

func (s *SignalEventSynapse) ClassName() string { return ClassSignalEventSynapse }

// SignalEventResponse carries the miner's scalar answer.
type SignalEventResponse struct {
	Class     string  `json:"class_name"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	Volume    float64 `json:"volume"`
}

func NewSignalEventResponse(price, liquidity, volume float64) *SignalEventResponse {
	return &SignalEventResponse{
		Class:     ClassSignalEventResponse,
		Price:     price,
		Liquidity: liquidity,
		Volume:    volume,
	}
}

func (r *SignalEventResponse) ClassName() string { return ClassSignalEventResponse }

// PredictionSynapse asks for a forward price series for a token.
type PredictionSynapse struct {
	Class        string `json:"class_name"`
	TokenAddress string `json:"token_address"`
	Timestamp    int64  `json:"timestamp"`
}

func NewPredictionSynapse(token string, timestamp int64) *PredictionSynapse {
	return &PredictionSynapse{
		Class:        ClassPredictionSynapse,
		TokenAddress: token,
		Timestamp:    timestamp,
	}
}

func (s *PredictionSynapse) ClassName() string { return ClassPredictionSynapse }

// PredictionResponse carries predicted close prices.
type PredictionResponse struct {
	Class  string    `json:"class_name"`
	Prices []float64 `json:"prices"`
}

func NewPredictionResponse(prices []float64) *PredictionResponse {
	return &PredictionResponse{Class: ClassPredictionResponse, Prices: prices}
}

func (r *PredictionResponse) ClassName() string { return ClassPredictionResponse }

// classTag is the minimal envelope peeked at before full decoding.
type classTag struct {
	Class string `json:"class_name"`
}

// DecodeResponse reconstructs a concrete response from its serialized
// form using the declared class name. The set of classes is closed;
// unknown tags and missing required fields yield ErrMalformedResponse.
func DecodeResponse(raw []byte) (Response, error) {
	var tag classTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch tag.Class {
	case ClassHealthCheckResponse:
		var r HealthCheckResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if r.TimeCompleted <= 0 {
			return nil, fmt.Errorf("%w: health check missing time_completed", ErrMalformedResponse)
		}
		return &r, nil

	case ClassPoolEventResponse:
		var r PoolEventResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if r.Data == nil {
			return nil, fmt.Errorf("%w: pool event response missing data", ErrMalformedResponse)
		}
		if r.OverallDataHash == "" {
			return nil, fmt.Errorf("%w: pool event response missing digest", ErrMalformedResponse)
		}
		return &r, nil

	case ClassSignalEventResponse:
		var r SignalEventResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return &r, nil

	case ClassPredictionResponse:
		var r PredictionResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(r.Prices) == 0 {
			return nil, fmt.Errorf("%w: prediction response missing prices", ErrMalformedResponse)
		}
		return &r, nil

	default:
		return nil, fmt.Errorf("%w: unknown class %q", ErrMalformedResponse, tag.Class)
	}
}

// MethodName returns the RPC method a synapse is dispatched on.
func MethodName(s Synapse) string {
	return "forward" + s.ClassName()
}

// Envelope wraps a request on the wire with identity and freshness
// metadata. Token carries the caller's signed identity.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Token     string          `json:"token,omitempty"`
	Synapse   json.RawMessage `json:"synapse"`
}
