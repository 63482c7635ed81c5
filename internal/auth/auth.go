package auth

// User is an allowlisted chat participant.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Repository persists the allowlist between restarts.
type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
}

// Service gates inbound messages. An empty allowlist means the bot is open
// to everyone.
type Service struct {
	repo         Repository
	allowedUsers map[int64]User
	open         bool
}

func NewWithRepo(repo Repository, initial []int64) (*Service, error) {
	s := &Service{repo: repo, allowedUsers: make(map[int64]User)}
	if repo != nil {
		users, err := repo.LoadAll()
		if err == nil {
			for _, u := range users {
				s.allowedUsers[u.ID] = u
			}
		}
	}
	// merge initial IDs (from env) without usernames
	for _, id := range initial {
		if _, ok := s.allowedUsers[id]; !ok {
			s.allowedUsers[id] = User{ID: id}
		}
	}
	s.open = len(s.allowedUsers) == 0
	return s, nil
}

func (s *Service) IsAllowed(userID int64) bool {
	if s.open {
		return true
	}
	_, ok := s.allowedUsers[userID]
	return ok
}

func (s *Service) Upsert(user User) error {
	s.allowedUsers[user.ID] = user
	s.open = false
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}
