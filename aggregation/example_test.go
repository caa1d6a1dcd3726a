package aggregation_test

import (
	"errors"
	"fmt"

	"github.com/zacharyestep/kpl-aggregation/aggregation"
)

func ExampleAggRecord() {
	agg := aggregation.NewAggRecord()
	for _, data := range []string{"hello", "world"} {
		if _, err := agg.AddUserRecord("abcd", nil, []byte(data), nil); err != nil {
			fmt.Println(err)
			return
		}
	}

	fmt.Println(agg.PartitionKey())
	fmt.Println(agg.ExplicitHashKey())
	fmt.Println(agg.NumUserRecords())
	fmt.Println(agg.SizeBytes(), len(agg.ToBytes()))
	// Output:
	// abcd
	// 301716283811389038011477436469853762335
	// 2
	// 48 48
}

func ExampleAggRecord_Check() {
	agg := aggregation.NewAggRecord(aggregation.WithMaxRecordSize(64))
	if _, err := agg.AddUserRecord("abcd", nil, make([]byte, 20), nil); err != nil {
		fmt.Println(err)
		return
	}

	var full *aggregation.CapacityExceededError
	err := agg.Check("abcd", nil, make([]byte, 20), nil)
	fmt.Println(errors.As(err, &full), agg.NumUserRecords())
	// Output:
	// true 1
}
