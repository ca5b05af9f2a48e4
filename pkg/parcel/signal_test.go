package parcel

import "testing"

func TestValidSignalCombinations(t *testing.T) {
	valid := []Signal{
		RequestSignal(),
		RequestSignal().WithMessage(),
		DenySignal(),
		AcceptSignal(),
		ConnectedSignal(),
		ConnectedSignal().Indexed(),
		ConnectedSignal().WithAck(),
		ConnectedSignal().WithMessage(),
		ConnectedSignal().Indexed().WithAck(),
		ConnectedSignal().Indexed().WithMessage(),
		ConnectedSignal().Indexed().WithStream(),
		ConnectedSignal().WithAck().WithMessage(),
		ConnectedSignal().Indexed().WithAck().WithMessage(),
		ConnectedSignal().Indexed().WithAck().WithStream(),
		ConnectedSignal().Indexed().WithMessage().WithStream(),
		ConnectedSignal().Indexed().WithAck().WithMessage().WithStream(),
	}
	for _, s := range valid {
		if err := s.Validate(); err != nil {
			t.Errorf("signal %08b rejected: %v", byte(s), err)
		}
	}
}

func TestSignalParityMaintained(t *testing.T) {
	signals := []Signal{
		RequestSignal(),
		AcceptSignal(),
		DenySignal(),
		ConnectedSignal(),
		ConnectedSignal().Indexed().WithAck().WithMessage().WithStream(),
	}
	for _, s := range signals {
		if !s.hasOddParity() {
			t.Errorf("signal %08b has even parity", byte(s))
		}
	}
}

func TestSignalClassification(t *testing.T) {
	if !RequestSignal().IsRequest() {
		t.Error("request signal not classified as request")
	}
	if !AcceptSignal().IsAccept() || !AcceptSignal().IsAnswer() {
		t.Error("accept signal not classified as accepting answer")
	}
	if !DenySignal().IsAnswer() || DenySignal().IsAccept() {
		t.Error("deny signal misclassified")
	}
	if !ConnectedSignal().IsConnected() || ConnectedSignal().IsAnswer() {
		t.Error("connected signal misclassified")
	}
	if ConnectedSignal().WithAck().IsAccept() {
		t.Error("connected ack parcel classified as handshake accept")
	}
}
