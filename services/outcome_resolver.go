// services/outcome_resolver.go
package services

import (
	"context"
)

// MatchOutcome is the resolver's classification of an attested match.
type MatchOutcome struct {
	Result      SettlementOutcome
	WinnerColor string // "white" | "black", empty on draw
	White       string // username registered on the white side
	Black       string // username registered on the black side
}

// WinnerUsername returns the attested winner's username, empty on a draw.
func (o *MatchOutcome) WinnerUsername() string {
	switch o.WinnerColor {
	case "white":
		return o.White
	case "black":
		return o.Black
	}
	return ""
}

// Statuses lichess uses for concluded games. A decisive-family status with
// no declared winner (e.g. a timeout where the opponent had insufficient
// material) counts as a draw, matching lichess semantics.
var (
	drawStatuses     = map[string]bool{"draw": true, "stalemate": true}
	decisiveStatuses = map[string]bool{"mate": true, "resign": true, "outoftime": true, "timeout": true}
)

// OutcomeResolver turns an attested match record into a draw/decisive
// classification. Read-only, but the fetch is a slow network call; callers
// must not hold any mutation lock across Resolve.
type OutcomeResolver struct {
	Attestor AttestationClient
}

func NewOutcomeResolver(attestor AttestationClient) *OutcomeResolver {
	return &OutcomeResolver{Attestor: attestor}
}

// Resolve fetches the attested record for lichessGameID and classifies it.
func (r *OutcomeResolver) Resolve(ctx context.Context, lichessGameID string) (*MatchOutcome, error) {
	attested, err := r.Attestor.FetchGame(ctx, lichessGameID)
	if err != nil {
		return nil, WrapErr(KindOutcomeUnavailable, err, "could not fetch match attestation")
	}

	outcome := &MatchOutcome{
		White: attested.White,
		Black: attested.Black,
	}

	switch {
	case drawStatuses[attested.Status]:
		outcome.Result = OutcomeDraw
	case decisiveStatuses[attested.Status]:
		if attested.Winner == "" {
			outcome.Result = OutcomeDraw
			break
		}
		outcome.Result = OutcomeDecisive
		outcome.WinnerColor = attested.Winner
	default:
		return nil, Errf(KindMatchNotConcluded, "match %s has status %q, not concluded", lichessGameID, attested.Status)
	}

	return outcome, nil
}
