package pipeline

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

var ErrEncodingFrameFailed = errors.New("encoding frame failed")

// codec is the JSON configuration used for every wire frame.
var codec = jsoniter.ConfigFastest

// DecodeClientRequest parses and validates a client frame. Undecodable input
// or a missing required field yields ledger.ErrMalformedRequest; the request
// is answered at the boundary without touching downstream tiers.
func DecodeClientRequest(frame []byte) (ClientRequest, error) {
	var request ClientRequest

	if unmarshalErr := codec.Unmarshal(frame, &request); unmarshalErr != nil {
		return ClientRequest{}, errors.Join(ledger.ErrMalformedRequest, unmarshalErr)
	}

	if request.Operation == "" || request.BookCode == "" || request.UserID == "" {
		return ClientRequest{}, ledger.ErrMalformedRequest
	}

	return request, nil
}

// EncodeClientRequest serializes a client frame.
func EncodeClientRequest(request ClientRequest) ([]byte, error) {
	return encode(request)
}

// DecodeClientReply parses a client envelope; used by the load-test driver
// and tests.
func DecodeClientReply(frame []byte) (ClientReply, error) {
	var reply ClientReply

	if unmarshalErr := codec.Unmarshal(frame, &reply); unmarshalErr != nil {
		return ClientReply{}, errors.Join(ledger.ErrMalformedRequest, unmarshalErr)
	}

	return reply, nil
}

// EncodeClientReply serializes a client envelope.
func EncodeClientReply(reply ClientReply) ([]byte, error) {
	return encode(reply)
}

// DecodeActorReply parses an actor reply frame.
func DecodeActorReply(frame []byte) (ActorReply, error) {
	var reply ActorReply

	if unmarshalErr := codec.Unmarshal(frame, &reply); unmarshalErr != nil {
		return ActorReply{}, errors.Join(ledger.ErrMalformedRequest, unmarshalErr)
	}

	if reply.Status == "" {
		return ActorReply{}, ledger.ErrMalformedRequest
	}

	return reply, nil
}

// EncodeActorReply serializes an actor reply frame.
func EncodeActorReply(reply ActorReply) ([]byte, error) {
	return encode(reply)
}

// DecodeStorageRequest parses a storage frame and validates the required
// fields of its variant.
func DecodeStorageRequest(frame []byte) (StorageRequest, error) {
	var request StorageRequest

	if unmarshalErr := codec.Unmarshal(frame, &request); unmarshalErr != nil {
		return StorageRequest{}, errors.Join(ledger.ErrMalformedRequest, unmarshalErr)
	}

	if request.BookCode == "" {
		return StorageRequest{}, ledger.ErrMalformedRequest
	}

	switch request.Op {
	case StorageOpQueryAvailability:
		return request, nil

	case StorageOpUpdateReturn:
		if request.UserID == "" {
			return StorageRequest{}, ledger.ErrMalformedRequest
		}
		return request, nil

	case StorageOpUpdateRenewal:
		if request.UserID == "" || request.NewDueDate.IsZero() {
			return StorageRequest{}, ledger.ErrMalformedRequest
		}
		return request, nil

	case StorageOpInsertHistory:
		if request.UserID == "" || !request.OperationKind.IsValid() {
			return StorageRequest{}, ledger.ErrMalformedRequest
		}
		return request, nil

	case StorageOpLoanTransaction:
		if request.UserID == "" || request.LoanDate.IsZero() || request.DueDate.IsZero() {
			return StorageRequest{}, ledger.ErrMalformedRequest
		}
		return request, nil

	default:
		return StorageRequest{}, errors.Join(ledger.ErrUnknownOperation, ledger.ErrMalformedRequest)
	}
}

// EncodeStorageRequest serializes a storage frame.
func EncodeStorageRequest(request StorageRequest) ([]byte, error) {
	return encode(request)
}

// DecodeStorageResponse parses a storage reply frame.
func DecodeStorageResponse(frame []byte) (StorageResponse, error) {
	var response StorageResponse

	if unmarshalErr := codec.Unmarshal(frame, &response); unmarshalErr != nil {
		return StorageResponse{}, errors.Join(ledger.ErrMalformedRequest, unmarshalErr)
	}

	if response.Status == "" {
		return StorageResponse{}, ledger.ErrMalformedRequest
	}

	return response, nil
}

// EncodeStorageResponse serializes a storage reply frame.
func EncodeStorageResponse(response StorageResponse) ([]byte, error) {
	return encode(response)
}

// EncodeStats serializes a stats snapshot for the HTTP stats endpoint.
func EncodeStats(snapshot TierStatsSnapshot) ([]byte, error) {
	return encode(snapshot)
}

func encode(message any) ([]byte, error) {
	frame, marshalErr := codec.Marshal(message)
	if marshalErr != nil {
		return nil, errors.Join(ErrEncodingFrameFailed, marshalErr)
	}

	return frame, nil
}
