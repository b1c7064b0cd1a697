package auth

import (
	"sync"
	"testing"

	"relaybot/internal/models"
)

var (
	privateChat = models.ChatContext{ID: "p", Type: models.ChatPrivate}
	groupChat   = models.ChatContext{ID: "g", Type: models.ChatGroup}
)

func TestGateAllowList(t *testing.T) {
	gate := NewGate(NewPolicy([]string{"U1", " "}, false, true))

	if d := gate.Authorize("U1", privateChat, models.RouteHelp); !d.Allowed || d.Reason != ReasonAllowListed {
		t.Fatalf("U1 should be allowed: %+v", d)
	}
	if d := gate.Authorize("U2", privateChat, models.RouteHelp); d.Allowed || d.Reason != ReasonNotAllowed {
		t.Fatalf("U2 should be denied: %+v", d)
	}
	if d := gate.Authorize("U2", groupChat, models.RouteFreeformText); d.Allowed {
		t.Fatalf("group freeform text must still need the allow-list: %+v", d)
	}
}

func TestZeroGateDeniesEverything(t *testing.T) {
	var gate Gate
	if d := gate.Authorize("U1", privateChat, models.RouteHelp); d.Allowed || d.Reason != ReasonNotAllowed {
		t.Fatalf("zero gate should deny: %+v", d)
	}
	if d := gate.Authorize("U1", groupChat, models.RouteGroupText); d.Allowed {
		t.Fatalf("zero gate should deny group commands: %+v", d)
	}
}

func TestGateGroupCommandsBypass(t *testing.T) {
	gate := NewGate(NewPolicy(nil, false, true))
	for _, route := range []models.Route{models.RouteGroupText, models.RouteGroupImage} {
		if d := gate.Authorize("U9", groupChat, route); !d.Allowed || d.Reason != ReasonGroupCommand {
			t.Fatalf("%s in group should bypass allow-list: %+v", route, d)
		}
	}
	if d := gate.Authorize("U9", groupChat, models.RouteResetSession); d.Allowed {
		t.Fatalf("reset in group is not a bypass route: %+v", d)
	}

	closed := NewGate(NewPolicy(nil, false, false))
	if d := closed.Authorize("U9", groupChat, models.RouteGroupText); d.Allowed {
		t.Fatalf("closed group policy should deny: %+v", d)
	}
}

func TestGateMalformedIdentityDenied(t *testing.T) {
	gate := NewGate(NewPolicy(nil, true, true))
	for _, id := range []models.UserID{"", "has space", "tab\tid", models.UserID(string(make([]byte, 65)))} {
		if d := gate.Authorize(id, privateChat, models.RouteHelp); d.Allowed || d.Reason != ReasonMalformedIdentity {
			t.Fatalf("identity %q should be denied as malformed: %+v", id, d)
		}
	}
}

func TestGateUnhandledDenied(t *testing.T) {
	gate := NewGate(NewPolicy(nil, true, true))
	if d := gate.Authorize("U1", privateChat, models.RouteUnhandled); d.Allowed {
		t.Fatalf("unhandled route should never be authorized")
	}
}

func TestGateReloadConcurrent(t *testing.T) {
	gate := NewGate(nil)
	if d := gate.Authorize("U1", privateChat, models.RouteHelp); d.Allowed {
		t.Fatalf("nil policy must deny")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gate.Authorize("U1", privateChat, models.RouteHelp)
			}
		}()
	}
	gate.Reload(NewPolicy([]string{"U1"}, false, true))
	wg.Wait()

	if d := gate.Authorize("U1", privateChat, models.RouteHelp); !d.Allowed {
		t.Fatalf("reloaded policy should allow U1")
	}
}
