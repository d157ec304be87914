package store

import (
	"context"
	"fmt"
)

// Operation names of the document-store wire API
// (POST /api/db/{collection}/{op}).
const (
	OpInsertOne        = "insert_one"
	OpFind             = "find"
	OpFindOne          = "find_one"
	OpUpdateOne        = "update_one"
	OpUpdateMany       = "update_many"
	OpDeleteOne        = "delete_one"
	OpReplaceOne       = "replace_one"
	OpFindOneAndUpdate = "find_one_and_update"
)

// Call is the request body of a wire operation. Unused fields are omitted.
type Call struct {
	Filter       Filter   `json:"filter,omitempty"`
	Update       Update   `json:"update,omitempty"`
	Document     Document `json:"document,omitempty"`
	ArrayFilters []Filter `json:"array_filters,omitempty"`
	Upsert       bool     `json:"upsert,omitempty"`
	ReturnNew    *bool    `json:"return_new,omitempty"`
}

func (c Call) options() []Option {
	opts := []Option{WithUpsert(c.Upsert)}
	if len(c.ArrayFilters) > 0 {
		opts = append(opts, WithArrayFilters(c.ArrayFilters...))
	}
	if c.ReturnNew != nil {
		opts = append(opts, WithReturnNew(*c.ReturnNew))
	}
	return opts
}

// Reply is the response body of a wire operation.
type Reply struct {
	InsertedID    string     `json:"inserted_id,omitempty"`
	MatchedCount  int        `json:"matched_count"`
	ModifiedCount int        `json:"modified_count"`
	DeletedCount  int        `json:"deleted_count"`
	UpsertedID    string     `json:"upserted_id,omitempty"`
	Document      Document   `json:"document"`
	Documents     []Document `json:"documents,omitempty"`
}

func replyFromUpdate(r UpdateResult) Reply {
	return Reply{MatchedCount: r.MatchedCount, ModifiedCount: r.ModifiedCount, UpsertedID: r.UpsertedID}
}

// Dispatch runs the named operation against c. It is the server side of
// RemoteStore.
func Dispatch(ctx context.Context, c Collection, op string, call Call) (Reply, error) {
	switch op {
	case OpInsertOne:
		r, err := c.InsertOne(ctx, call.Document)
		return Reply{InsertedID: r.InsertedID}, err
	case OpFind:
		docs, err := c.Find(ctx, call.Filter)
		if docs == nil {
			docs = []Document{}
		}
		return Reply{Documents: docs}, err
	case OpFindOne:
		d, err := c.FindOne(ctx, call.Filter)
		return Reply{Document: d}, err
	case OpUpdateOne:
		r, err := c.UpdateOne(ctx, call.Filter, call.Update, call.options()...)
		return replyFromUpdate(r), err
	case OpUpdateMany:
		r, err := c.UpdateMany(ctx, call.Filter, call.Update)
		return replyFromUpdate(r), err
	case OpDeleteOne:
		r, err := c.DeleteOne(ctx, call.Filter)
		return Reply{DeletedCount: r.DeletedCount}, err
	case OpReplaceOne:
		r, err := c.ReplaceOne(ctx, call.Filter, call.Document, call.options()...)
		return replyFromUpdate(r), err
	case OpFindOneAndUpdate:
		d, err := c.FindOneAndUpdate(ctx, call.Filter, call.Update, call.options()...)
		return Reply{Document: d}, err
	}
	return Reply{}, fmt.Errorf("%w: operation %q", ErrUnsupportedOperator, op)
}
