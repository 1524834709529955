package service

import "connectrpc.com/connect"

// Client calls both services of a remote server.
type Client struct {
	CreateTransaction   *connect.Client[CreateTransactionRequest, TransactionResponse]
	UpdateTransaction   *connect.Client[UpdateTransactionRequest, TransactionResponse]
	DeleteTransaction   *connect.Client[TransactionIDRequest, Empty]
	GetTransaction      *connect.Client[TransactionIDRequest, TransactionResponse]
	ListTransactions    *connect.Client[ListTransactionsRequest, ListTransactionsResponse]
	ComputeDues         *connect.Client[GroupIDRequest, ComputeDuesResponse]
	ComputeBalances     *connect.Client[GroupIDRequest, ComputeBalancesResponse]
	RepairDeferredRates *connect.Client[GroupIDRequest, RepairDeferredRatesResponse]

	CreateGroup  *connect.Client[CreateGroupRequest, GroupResponse]
	GetGroup     *connect.Client[GroupIDRequest, GroupResponse]
	UpdateGroup  *connect.Client[UpdateGroupRequest, GroupResponse]
	AddMember    *connect.Client[AddMemberRequest, MemberResponse]
	RemoveMember *connect.Client[RemoveMemberRequest, Empty]
	SetArchived  *connect.Client[SetArchivedRequest, GroupResponse]
	DeleteGroup  *connect.Client[DeleteGroupRequest, Empty]
	ListMembers  *connect.Client[ListMembersRequest, ListMembersResponse]
}

// NewClient builds a Client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{ClientJSON()}, opts...)
	return &Client{
		CreateTransaction:   connect.NewClient[CreateTransactionRequest, TransactionResponse](httpClient, baseURL+CreateTransactionProcedure, opts...),
		UpdateTransaction:   connect.NewClient[UpdateTransactionRequest, TransactionResponse](httpClient, baseURL+UpdateTransactionProcedure, opts...),
		DeleteTransaction:   connect.NewClient[TransactionIDRequest, Empty](httpClient, baseURL+DeleteTransactionProcedure, opts...),
		GetTransaction:      connect.NewClient[TransactionIDRequest, TransactionResponse](httpClient, baseURL+GetTransactionProcedure, opts...),
		ListTransactions:    connect.NewClient[ListTransactionsRequest, ListTransactionsResponse](httpClient, baseURL+ListTransactionsProcedure, opts...),
		ComputeDues:         connect.NewClient[GroupIDRequest, ComputeDuesResponse](httpClient, baseURL+ComputeDuesProcedure, opts...),
		ComputeBalances:     connect.NewClient[GroupIDRequest, ComputeBalancesResponse](httpClient, baseURL+ComputeBalancesProcedure, opts...),
		RepairDeferredRates: connect.NewClient[GroupIDRequest, RepairDeferredRatesResponse](httpClient, baseURL+RepairDeferredRatesProcedure, opts...),

		CreateGroup:  connect.NewClient[CreateGroupRequest, GroupResponse](httpClient, baseURL+CreateGroupProcedure, opts...),
		GetGroup:     connect.NewClient[GroupIDRequest, GroupResponse](httpClient, baseURL+GetGroupProcedure, opts...),
		UpdateGroup:  connect.NewClient[UpdateGroupRequest, GroupResponse](httpClient, baseURL+UpdateGroupProcedure, opts...),
		AddMember:    connect.NewClient[AddMemberRequest, MemberResponse](httpClient, baseURL+AddMemberProcedure, opts...),
		RemoveMember: connect.NewClient[RemoveMemberRequest, Empty](httpClient, baseURL+RemoveMemberProcedure, opts...),
		SetArchived:  connect.NewClient[SetArchivedRequest, GroupResponse](httpClient, baseURL+SetArchivedProcedure, opts...),
		DeleteGroup:  connect.NewClient[DeleteGroupRequest, Empty](httpClient, baseURL+DeleteGroupProcedure, opts...),
		ListMembers:  connect.NewClient[ListMembersRequest, ListMembersResponse](httpClient, baseURL+ListMembersProcedure, opts...),
	}
}
