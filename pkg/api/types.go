package api

// Envelope is the response wrapper used by every endpoint.
type Envelope struct {
	Status  bool      `json:"status"`
	Message string    `json:"message"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

// Success builds a successful envelope.
func Success(message string, data any) Envelope {
	return Envelope{Status: true, Message: message, Data: data}
}

// Failure builds an error envelope from an APIError.
func Failure(err *APIError) Envelope {
	return Envelope{Status: false, Message: err.Message, Error: err}
}

// Todo is a single todo item as stored and returned by the API.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	DueDate     *Timestamp `json:"due_date"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   Timestamp  `json:"created_at"`
	UpdatedAt   Timestamp  `json:"updated_at"`
}

// TodoInput holds the client-writable todo fields.
type TodoInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	DueDate     *Timestamp `json:"due_date"`
}

// TodoRequest is the body of create and update requests.
type TodoRequest struct {
	Data *TodoInput `json:"data"`
}

// Apply copies the writable fields of in onto t, replacing all of them.
func (t *Todo) Apply(in *TodoInput) {
	t.Title = in.Title
	t.Description = in.Description
	t.Completed = in.Completed
	t.DueDate = in.DueDate
}

// TodoPage is the data payload of a list request. Total, Limit and Offset
// are only set when the client asked for pagination.
type TodoPage struct {
	Todos  []*Todo `json:"todos"`
	Total  *int    `json:"total,omitempty"`
	Limit  *int    `json:"limit,omitempty"`
	Offset *int    `json:"offset,omitempty"`
}

// NonceData is returned by the nonce endpoint.
type NonceData struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt Timestamp `json:"expires_at"`
}

// SignInRequest is the body of the sign-in endpoint.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nonce    string `json:"nonce"`
}

// SignInData is returned by a successful sign-in.
type SignInData struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   Timestamp `json:"expires_at"`
}
