package analytics

import "testing"

func TestEval_LiteralEquality(t *testing.T) {
	doc := map[string]any{"status": "shipped", "country": "US"}

	if !Eval(map[string]any{"status": "shipped"}, doc) {
		t.Fatal("expected literal match")
	}
	if Eval(map[string]any{"status": "pending"}, doc) {
		t.Fatal("expected literal mismatch to fail")
	}
	if Eval(map[string]any{"missing": "x"}, doc) {
		t.Fatal("expected missing field to fail literal equality")
	}
}

func TestEval_NestedPath(t *testing.T) {
	doc := map[string]any{
		"customer": map[string]any{
			"address": map[string]any{"country": "DE"},
		},
	}
	if !Eval(map[string]any{"customer.address.country": "DE"}, doc) {
		t.Fatal("expected nested path match")
	}
	if Eval(map[string]any{"customer.address.zip": "12345"}, doc) {
		t.Fatal("expected missing nested path to fail")
	}
}

func TestEval_Exists(t *testing.T) {
	doc := map[string]any{"flag": true}

	if !Eval(map[string]any{"flag": map[string]any{"$exists": true}}, doc) {
		t.Fatal("expected $exists:true to match present field")
	}
	if !Eval(map[string]any{"other": map[string]any{"$exists": false}}, doc) {
		t.Fatal("expected $exists:false to match absent field")
	}
	if Eval(map[string]any{"flag": map[string]any{"$exists": false}}, doc) {
		t.Fatal("expected $exists:false to fail for present field")
	}
}

func TestEval_In(t *testing.T) {
	doc := map[string]any{"tier": "gold"}
	when := map[string]any{"tier": map[string]any{"$in": []any{"gold", "platinum"}}}
	if !Eval(when, doc) {
		t.Fatal("expected $in match")
	}
	when = map[string]any{"tier": map[string]any{"$in": []any{"silver", "bronze"}}}
	if Eval(when, doc) {
		t.Fatal("expected $in mismatch to fail")
	}
}

func TestEval_GteLte(t *testing.T) {
	doc := map[string]any{"amount": 42.0}

	if !Eval(map[string]any{"amount": map[string]any{"$gte": 10.0}}, doc) {
		t.Fatal("expected $gte to match")
	}
	if Eval(map[string]any{"amount": map[string]any{"$gte": 100.0}}, doc) {
		t.Fatal("expected $gte to fail for smaller value")
	}
	if !Eval(map[string]any{"amount": map[string]any{"$lte": 100.0}}, doc) {
		t.Fatal("expected $lte to match")
	}
	if Eval(map[string]any{"amount": map[string]any{"$lte": 10.0}}, doc) {
		t.Fatal("expected $lte to fail for larger value")
	}
}

func TestEval_MultipleFieldsAllMustMatch(t *testing.T) {
	doc := map[string]any{"status": "shipped", "amount": 50.0}
	when := map[string]any{
		"status": "shipped",
		"amount": map[string]any{"$gte": 100.0},
	}
	if Eval(when, doc) {
		t.Fatal("expected rule with one failing clause to not match")
	}
}

func TestLookupPath_NonMapIntermediate(t *testing.T) {
	doc := map[string]any{"a": "not-a-map"}
	_, found := lookupPath(doc, "a.b")
	if found {
		t.Fatal("expected traversal through a scalar to fail")
	}
}
