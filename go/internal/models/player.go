package models

// Membership is the relationship of a player to the current tournament.
// A player is exactly one of these at any time.
type Membership string

const (
	MembershipUnseen       Membership = "unseen"
	MembershipSurvivor     Membership = "survivor"
	MembershipEliminated   Membership = "eliminated"
	MembershipWinner       Membership = "winner"
	MembershipTiedFinalist Membership = "tied_finalist"
)

// Role describes who is on the other end of a connection.
type Role string

const (
	RolePlayer  Role = "player"
	RoleAdmin   Role = "admin"
	RoleDisplay Role = "display"
)

// Identity is the verified caller of a request or connection.
type Identity struct {
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	IsDisplay bool   `json:"is_display"`
}

// IsOperator reports whether the identity carries an operator role.
// Operators never join the tournament themselves.
func (i Identity) IsOperator() bool {
	return i.IsAdmin || i.IsDisplay
}

// Role returns the connection role for the identity.
func (i Identity) Role() Role {
	switch {
	case i.IsAdmin:
		return RoleAdmin
	case i.IsDisplay:
		return RoleDisplay
	default:
		return RolePlayer
	}
}

// Counts holds live player counts for the room.
type Counts struct {
	Survivors  int `json:"survivors"`
	Eliminated int `json:"eliminated"`
	Online     int `json:"online"`
}

// Total returns the number of players that joined the tournament.
func (c Counts) Total() int {
	return c.Survivors + c.Eliminated
}
