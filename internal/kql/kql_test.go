package kql

import (
	"testing"
	"time"
)

func TestQueryString(t *testing.T) {
	t.Parallel()

	users, err := Dynamic("alice@x.com", `evil"]) | take 1 //`)
	if err != nil {
		t.Fatalf("Dynamic: %v", err)
	}
	q := From("AADSignInEventsBeta").
		Let("monitoredUsers", users).
		Where(Greater("Timestamp", Datetime(time.Date(2024, 1, 1, 7, 0, 0, 0, time.FixedZone("EST", -5*3600))))).
		Where(NotEqual("Country", String("US"))).
		Where(Equal("ErrorCode", Int(0))).
		Where(In("AccountUpn", Ident("monitoredUsers"))).
		Project("Timestamp", "AccountUpn")

	want := `let monitoredUsers = dynamic(["alice@x.com","evil\"]) | take 1 //"]);
AADSignInEventsBeta
| where Timestamp > datetime(2024-01-01T12:00:00Z)
| where Country != "US"
| where ErrorCode == 0
| where AccountUpn in (monitoredUsers)
| project Timestamp, AccountUpn`
	if got := q.String(); got != want {
		t.Fatalf("query mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestStringEscapes(t *testing.T) {
	t.Parallel()

	if got := String("a\"b\\c\nd").kql(); got != `"a\"b\\c\nd"` {
		t.Fatalf("String = %s", got)
	}
}

func TestIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := Ident("Account Upn").kql(); got != "['Account Upn']" {
		t.Fatalf("Ident = %s", got)
	}
	if got := Ident("it's").kql(); got != `['it\'s']` {
		t.Fatalf("Ident = %s", got)
	}
}

func TestDynamicEmpty(t *testing.T) {
	t.Parallel()

	e, err := Dynamic()
	if err != nil {
		t.Fatalf("Dynamic: %v", err)
	}
	if got := e.kql(); got != "dynamic([])" {
		t.Fatalf("Dynamic = %s", got)
	}
}
