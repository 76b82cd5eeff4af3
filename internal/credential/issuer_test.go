package credential

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{9}$`)

func TestIssueCodeFormat(t *testing.T) {
	issuer := NewIssuer(nil)
	for i := 0; i < 50; i++ {
		cred, err := issuer.Issue("sess", "prof", time.Minute)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if !codePattern.MatchString(cred.Code) {
			t.Fatalf("code %q does not match [A-Z0-9]{9}", cred.Code)
		}
	}
}

func TestFormatGroupsOfThree(t *testing.T) {
	formatted := Format("AB1CD2EF3")
	if formatted != "AB1-CD2-EF3" {
		t.Fatalf("Format = %q, want AB1-CD2-EF3", formatted)
	}
	if Normalize("ab1-cd2 ef3") != "AB1CD2EF3" {
		t.Fatalf("Normalize should strip separators and uppercase")
	}
}

func TestRedeemExactlyOnce(t *testing.T) {
	issuer := NewIssuer(nil)
	cred, err := issuer.Issue("sess", "prof", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	redeemed, err := issuer.Redeem(cred.Code)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !redeemed.Consumed {
		t.Fatalf("expected consumed credential")
	}
	if _, err := issuer.Redeem(cred.Code); err != ErrCodeConsumed {
		t.Fatalf("second Redeem: err = %v, want ErrCodeConsumed", err)
	}
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	issuer := NewIssuer(nil)
	cred, err := issuer.Issue("sess", "prof", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const redeemers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, consumed := 0, 0
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.Redeem(cred.Code)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrCodeConsumed:
				consumed++
			default:
				t.Errorf("Redeem: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if consumed != redeemers-1 {
		t.Fatalf("consumed errors = %d, want %d", consumed, redeemers-1)
	}
}

func TestRedeemExpiredIsDistinctFromNotFound(t *testing.T) {
	issuer := NewIssuer(nil)
	now := time.Now().UTC()
	issuer.SetNow(func() time.Time { return now })
	cred, err := issuer.Issue("sess", "prof", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.SetNow(func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := issuer.Redeem(cred.Code); err != ErrCodeExpired {
		t.Fatalf("expired Redeem: err = %v, want ErrCodeExpired", err)
	}
	// Purged on lookup; only now does it report not-found.
	if _, err := issuer.Redeem(cred.Code); err != ErrCodeNotFound {
		t.Fatalf("purged Redeem: err = %v, want ErrCodeNotFound", err)
	}
	if _, err := issuer.Redeem("ZZZZZZZZZ"); err != ErrCodeNotFound {
		t.Fatalf("unknown Redeem: err = %v, want ErrCodeNotFound", err)
	}
}

func TestSweepPurgesExpiredAndConsumed(t *testing.T) {
	issuer := NewIssuer(nil)
	now := time.Now().UTC()
	issuer.SetNow(func() time.Time { return now })

	expired, _ := issuer.Issue("s1", "p1", time.Second)
	redeemed, _ := issuer.Issue("s2", "p1", time.Hour)
	live, _ := issuer.Issue("s3", "p1", time.Hour)
	if _, err := issuer.Redeem(redeemed.Code); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	issuer.SetNow(func() time.Time { return now.Add(time.Minute) })
	if purged := issuer.Sweep(); purged != 2 {
		t.Fatalf("Sweep purged %d, want 2", purged)
	}
	if _, err := issuer.Redeem(expired.Code); err != ErrCodeNotFound {
		t.Fatalf("swept code: err = %v, want ErrCodeNotFound", err)
	}
	if _, err := issuer.Redeem(live.Code); err != nil {
		t.Fatalf("live code should redeem: %v", err)
	}
}

func TestRevokeDropsSessionCodes(t *testing.T) {
	issuer := NewIssuer(nil)
	cred, _ := issuer.Issue("sess", "prof", time.Minute)
	other, _ := issuer.Issue("other", "prof", time.Minute)
	issuer.Revoke("sess")
	if _, err := issuer.Redeem(cred.Code); err != ErrCodeNotFound {
		t.Fatalf("revoked code: err = %v, want ErrCodeNotFound", err)
	}
	if _, err := issuer.Redeem(other.Code); err != nil {
		t.Fatalf("other session code should survive: %v", err)
	}
}
