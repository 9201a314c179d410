package gateway

import (
	"encoding/json"

	"github.com/janekolszak/warp/pkg/interaction"
)

const nodeFields = `
      id
      owner { address }
      recipient
      tags { name value }
      block { height id timestamp }`

const interactionsQuery = `query Interactions($tags: [TagFilter!]!, $blockFilter: BlockFilter!, $first: Int!, $after: String) {
  transactions(tags: $tags, block: $blockFilter, first: $first, sort: HEIGHT_ASC, after: $after) {
    pageInfo { hasNextPage }
    edges {
      node {` + nodeFields + `
      }
      cursor
    }
  }
}`

const transactionQuery = `query Transaction($id: ID!) {
  transaction(id: $id) {` + nodeFields + `
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type tagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type gqlOwner struct {
	Address string `json:"address"`
}

type gqlBlock struct {
	Height    uint64 `json:"height"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type gqlNode struct {
	ID        string            `json:"id"`
	Owner     gqlOwner          `json:"owner"`
	Recipient string            `json:"recipient"`
	Tags      []interaction.Tag `json:"tags"`
	Block     *gqlBlock         `json:"block"`
}

func (n *gqlNode) record() *interaction.Record {
	r := &interaction.Record{
		ID:        n.ID,
		Owner:     n.Owner.Address,
		Recipient: n.Recipient,
		Tags:      append([]interaction.Tag(nil), n.Tags...),
	}
	if n.Block != nil {
		r.Block = interaction.Block{
			Height:    n.Block.Height,
			ID:        n.Block.ID,
			Timestamp: n.Block.Timestamp,
		}
	}
	return r
}

type gqlEdge struct {
	Node   gqlNode `json:"node"`
	Cursor string  `json:"cursor"`
}

type transactionsResult struct {
	Transactions struct {
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
		Edges []gqlEdge `json:"edges"`
	} `json:"transactions"`
}

type transactionResult struct {
	Transaction *gqlNode `json:"transaction"`
}
