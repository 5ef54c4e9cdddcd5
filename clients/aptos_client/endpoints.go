package aptos_client

const (
	// Public fullnode REST endpoints per network.
	MainnetBaseURL = "https://fullnode.mainnet.aptoslabs.com/v1"
	TestnetBaseURL = "https://fullnode.testnet.aptoslabs.com/v1"
	DevnetBaseURL  = "https://fullnode.devnet.aptoslabs.com/v1"

	// Paths
	viewEndpoint             = "/view"
	transactionsEndpoint     = "/transactions"
	transactionByHashPattern = "/transactions/by_hash/%s"

	// Headers
	JsonHeader        = "accept"
	JsonContentType   = "application/json"
	BcsTxnContentType = "application/x.aptos.signed_transaction+bcs"

	entryFunctionPayloadType = "entry_function_payload"

	// The pictionary Move module and its functions.
	moduleName        = "pictionary"
	fnGameState       = "game_state"
	fnRoundState      = "round_state"
	fnCanvas          = "canvas"
	FnDraw            = "draw"
	FnGuess           = "guess"
)
