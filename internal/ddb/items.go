package ddb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/letmevibethatforyou/molsearch"
)

// Key attribute names of a result table.
const (
	PartitionKey = "pk"
	SortKey      = "sk"
)

// Item is one stored hit. Items of a query share the partition key. The sort key starts with
// the generation of the append that wrote them, so a repeated query never replaces earlier items.
type Item struct {
	QueryID       string   `dynamodbav:"pk"`                   // PK field
	SK            string   `dynamodbav:"sk"`                   // SK field, generation#position
	Position      int      `dynamodbav:"position"`             // hit position within the append
	QueryMolecule string   `dynamodbav:"query_smiles"`         // query structure
	HitMolecule   string   `dynamodbav:"hit_smiles"`           // neighbor structure
	HitID         string   `dynamodbav:"hit_id"`               // catalogue id
	Similarity    *float64 `dynamodbav:"similarity,omitempty"` // absent when the service sent none
	RunID         string   `dynamodbav:"run_id,omitempty"`     // run that wrote the item
}

// PositionKey renders the sort key of a hit. Positions are zero padded so that the hits of
// one generation order lexically.
func PositionKey(generation string, position int) string {
	return fmt.Sprintf("%s#%06d", generation, position)
}

// NewItem builds the item for the row at position of the given append generation.
func NewItem(r molsearch.Row, generation string, position int, runID string) Item {
	return Item{
		QueryID:       r.QueryID,
		SK:            PositionKey(generation, position),
		Position:      position,
		QueryMolecule: r.QueryMolecule,
		HitMolecule:   r.HitMolecule,
		HitID:         r.HitID,
		Similarity:    r.Similarity,
		RunID:         runID,
	}
}

// MarshalItem converts an Item into a DynamoDB attribute map
func MarshalItem(it Item) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(it)
}

// UnmarshalItem converts a DynamoDB attribute map into an Item struct.
// Projected maps decode too; absent attributes stay zero.
func UnmarshalItem(av map[string]types.AttributeValue) (Item, error) {
	var item Item
	err := attributevalue.UnmarshalMap(av, &item)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// Key returns the primary key of an attribute map.
func Key(av map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PartitionKey: av[PartitionKey],
		SortKey:      av[SortKey],
	}
}
