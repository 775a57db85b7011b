package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated via grpc.CallContentSubtype; the server picks the
// registered codec by that content subtype.
// There is no .proto schema for RequestVote/AppendEntries anywhere in this
// module's lineage, so messages travel as JSON rather than protobuf wire
// format; jsonCodec is what lets a plain grpc.ClientConn.Invoke carry
// raft.VoteRequest/raft.AppendEntriesRequest values directly.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
