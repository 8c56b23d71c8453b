package events_test

import (
	"testing"

	"github.com/ardanlabs/opledger/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestSend(t *testing.T) {
	t.Log("Given the need to deliver viewer events to subscribers.")
	{
		evts := events.New("viewer:")
		ch := evts.Acquire("1")

		testID := 0
		t.Logf("\tTest %d:\tWhen sending a viewer event.", testID)
		{
			evts.Send("viewer: block: {}")

			select {
			case msg := <-ch:
				if msg != "viewer: block: {}" {
					t.Fatalf("\t%s\tTest %d:\tShould receive the event: %q", failed, testID, msg)
				}
			default:
				t.Fatalf("\t%s\tTest %d:\tShould receive the event.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould receive the event.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen sending a log message.", testID)
		{
			evts.Send("state: restore: started")

			select {
			case msg := <-ch:
				t.Fatalf("\t%s\tTest %d:\tShould filter the message: %q", failed, testID, msg)
			default:
			}
			t.Logf("\t%s\tTest %d:\tShould filter the message.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen shutting down.", testID)
		{
			evts.Acquire("2")
			evts.Shutdown()

			if _, open := <-ch; open {
				t.Fatalf("\t%s\tTest %d:\tShould close the channels.", failed, testID)
			}
			if n := evts.Subscribers(); n != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould remove the subscribers: %d", failed, testID, n)
			}
			if err := evts.Release("1"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould not release twice.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould close the channels.", success, testID)
		}
	}
}
