package rest

import "testing"

type listMembersQuery struct {
	Limit int    `url:"limit"`
	After string `url:"after"`
}

func TestEncodeQueryProducesFlatStringMap(t *testing.T) {
	q, err := EncodeQuery(listMembersQuery{Limit: 50, After: "123456789"})
	if err != nil {
		t.Fatalf("EncodeQuery: %v", err)
	}

	if q["limit"] != "50" || q["after"] != "123456789" {
		t.Fatalf("EncodeQuery = %+v, want limit=50 after=123456789", q)
	}
}
