package supportsync

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/gigvora/support_backend/models"
)

type mapDirectory struct {
	byID    map[int]*models.User
	byEmail map[string]*models.User
	byPhone map[string]*models.User
	calls   []string
}

func newMapDirectory(users ...models.User) *mapDirectory {
	d := &mapDirectory{
		byID:    map[int]*models.User{},
		byEmail: map[string]*models.User{},
		byPhone: map[string]*models.User{},
	}
	for i := range users {
		u := users[i]
		d.byID[u.ID] = &u
		if u.Email != nil {
			d.byEmail[strings.ToLower(*u.Email)] = &u
		}
		if u.Phone != "" {
			d.byPhone[u.Phone] = &u
		}
	}
	return d
}

func (d *mapDirectory) FindByID(_ context.Context, id int) (*models.User, error) {
	d.calls = append(d.calls, "id")
	return d.byID[id], nil
}

func (d *mapDirectory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	d.calls = append(d.calls, "email:"+email)
	return d.byEmail[strings.ToLower(email)], nil
}

func (d *mapDirectory) FindByPhone(_ context.Context, e164 string) (*models.User, error) {
	d.calls = append(d.calls, "phone:"+e164)
	return d.byPhone[e164], nil
}

func strPtr(s string) *string { return &s }

func directoryFixture() *mapDirectory {
	return newMapDirectory(
		models.User{ID: 7, Name: "Ada", Email: strPtr("ada@gigvora.test")},
		models.User{ID: 8, Name: "Ben", Email: strPtr("ben@gigvora.test")},
		models.User{ID: 9, Name: "Cy", Phone: "+16502530000"},
		models.User{ID: 3, Name: "Sam", Email: strPtr("agent@gigvora.test")},
	)
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func TestResolveOwner(t *testing.T) {
	cases := []struct {
		name string
		conv Conversation
		want int
	}{
		{
			name: "contact custom attribute",
			conv: Conversation{Contact: Party{CustomAttributes: map[string]interface{}{"gigvora_user_id": "7"}, Email: "ben@gigvora.test"}},
			want: 7,
		},
		{
			name: "attribute bags in priority order",
			conv: Conversation{
				Contact: Party{
					CustomAttributes:     map[string]interface{}{},
					AdditionalAttributes: map[string]interface{}{"user_id": 8},
				},
				CustomAttributes: map[string]interface{}{"gigvora_user_id": 7},
			},
			want: 8,
		},
		{
			name: "malformed attribute falls through to email",
			conv: Conversation{Contact: Party{CustomAttributes: map[string]interface{}{"gigvora_user_id": "abc", "user_id": -2}, Email: "Ben@Gigvora.test"}},
			want: 8,
		},
		{
			name: "unknown attribute id falls through",
			conv: Conversation{Contact: Party{CustomAttributes: map[string]interface{}{"gigvora_user_id": 404}, Identifier: "gigvora-user-7"}},
			want: 7,
		},
		{
			name: "identifier user prefix",
			conv: Conversation{Contact: Party{Identifier: "user:8"}},
			want: 8,
		},
		{
			name: "bare numeric identifier",
			conv: Conversation{Contact: Party{Identifier: "7"}},
			want: 7,
		},
		{
			name: "phone in national format",
			conv: Conversation{Contact: Party{Phone: "(650) 253-0000"}},
			want: 9,
		},
		{
			name: "nothing matches",
			conv: Conversation{Contact: Party{Email: "stranger@example.com", Identifier: "crm-55", Phone: "12"}},
			want: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(directoryFixture(), "")
			got, err := r.ResolveOwner(context.Background(), tc.conv)
			if err != nil {
				t.Fatalf("ResolveOwner: %v", err)
			}
			if intValue(got) != tc.want {
				t.Fatalf("owner = %d, want %d", intValue(got), tc.want)
			}
		})
	}
}

func TestResolveOwnerInvalidEmailSkipsLookup(t *testing.T) {
	dir := directoryFixture()
	r := NewResolver(dir, "US")
	got, err := r.ResolveOwner(context.Background(), Conversation{Contact: Party{Email: "not-an-email"}})
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
	if len(dir.calls) != 0 {
		t.Fatalf("directory should not be queried, calls = %v", dir.calls)
	}
}

func TestResolveOwnerDirectoryError(t *testing.T) {
	r := NewResolver(failingDirectory{}, "US")
	_, err := r.ResolveOwner(context.Background(), Conversation{Contact: Party{Email: "ada@gigvora.test"}})
	if err == nil {
		t.Fatalf("expected directory error to surface")
	}
}

func TestResolveSender(t *testing.T) {
	owner := 7
	conv := Conversation{ID: "42", Contact: Party{ID: "900", Type: "contact"}}
	r := NewResolver(directoryFixture(), "US")

	cases := []struct {
		name string
		msg  Message
		want int
	}{
		{"agent by email", Message{Type: MessageTypeOutgoing, Sender: &Party{ID: "31", Type: "user", Email: "AGENT@gigvora.test"}}, 3},
		{"contact sender falls back to owner", Message{Type: MessageTypeIncoming, Sender: &Party{ID: "900", Type: "contact"}}, 7},
		{"missing incoming sender is the owner", Message{Type: MessageTypeIncoming}, 7},
		{"missing outgoing sender stays unresolved", Message{Type: MessageTypeOutgoing}, 0},
		{"unknown agent stays unresolved", Message{Type: MessageTypeOutgoing, Sender: &Party{ID: "32", Type: "user", Email: "temp@agency.test"}}, 0},
		{"bot stays unresolved", Message{Type: MessageTypeOutgoing, Sender: &Party{ID: "2", Type: "agent_bot"}}, 0},
		{"other contact stays unresolved", Message{Type: MessageTypeIncoming, Sender: &Party{ID: "901", Type: "contact"}}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.ResolveSender(context.Background(), MessageEvent{Conversation: conv, Message: tc.msg}, &owner)
			if err != nil {
				t.Fatalf("ResolveSender: %v", err)
			}
			if intValue(got) != tc.want {
				t.Fatalf("sender = %d, want %d", intValue(got), tc.want)
			}
		})
	}
}

func TestResolveAssignee(t *testing.T) {
	r := NewResolver(directoryFixture(), "US")
	got, err := r.ResolveAssignee(context.Background(), Conversation{})
	if err != nil || got != nil {
		t.Fatalf("no assignee: got %v, %v", got, err)
	}
	got, err = r.ResolveAssignee(context.Background(), Conversation{Assignee: &Party{Type: "user", Email: "agent@gigvora.test"}})
	if err != nil || intValue(got) != 3 {
		t.Fatalf("assignee = %v, %v", got, err)
	}
}

func TestContactIdentifierRoundTrip(t *testing.T) {
	id := ContactIdentifier(7)
	if id != "gigvora-user-7" {
		t.Fatalf("identifier = %q", id)
	}
	m := identifierPattern.FindStringSubmatch(id)
	if m == nil || m[1] != "7" {
		t.Fatalf("identifier pattern did not match %q", id)
	}
}
