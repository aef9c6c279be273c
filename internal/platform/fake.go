// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient records every call for assertions and returns canned chat
// members and errors. Safe for concurrent use.
type FakeClient struct {
	mu      sync.Mutex
	calls   []string
	members map[int64]ChatMember

	// Err, when non-nil, is returned by every mutating method.
	Err error
	// MemberErr, when non-nil, is returned by GetChatMember.
	MemberErr error
	// MemberCalls counts GetChatMember invocations.
	MemberCalls int
}

// NewFakeClient creates an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{members: make(map[int64]ChatMember)}
}

// SetMember configures the chat member returned for a user id.
func (f *FakeClient) SetMember(userID int64, m ChatMember) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = m
}

// Calls returns a copy of the recorded call log, e.g. "reply(hi)".
func (f *FakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeClient) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.Err
}

func (f *FakeClient) SendMessage(_ context.Context, chatID int64, text string) error {
	return f.record("send_message(%d, %s)", chatID, text)
}

func (f *FakeClient) Reply(_ context.Context, msg *Message, text string) error {
	return f.record("reply(%s)", text)
}

func (f *FakeClient) Delete(_ context.Context, msg *Message) error {
	return f.record("delete(%d)", msg.ID)
}

func (f *FakeClient) Restrict(_ context.Context, chatID, userID int64, until time.Time) error {
	return f.record("restrict(%d, %d)", chatID, userID)
}

func (f *FakeClient) Unrestrict(_ context.Context, chatID, userID int64) error {
	return f.record("unrestrict(%d, %d)", chatID, userID)
}

func (f *FakeClient) Ban(_ context.Context, chatID, userID int64, reason string) error {
	return f.record("ban(%d, %d)", chatID, userID)
}

func (f *FakeClient) Kick(_ context.Context, chatID, userID int64) error {
	return f.record("kick(%d, %d)", chatID, userID)
}

func (f *FakeClient) GetChatMember(_ context.Context, chatID, userID int64) (ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MemberCalls++
	if f.MemberErr != nil {
		return ChatMember{}, f.MemberErr
	}
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return ChatMember{User: User{ID: userID}, Status: "member"}, nil
}

func (f *FakeClient) StartVerification(_ context.Context, chatID, userID int64) error {
	return f.record("start_verification(%d, %d)", chatID, userID)
}
