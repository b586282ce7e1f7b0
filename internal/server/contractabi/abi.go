// Package contractabi serves read-only ledger calls in the Ethereum contract
// ABI encoding, so clients that previously called the on-chain registry
// with eth_call can switch to this service without changing their decoders.
package contractabi

// LedgerABI describes the read surface of the registry. getContent and
// getCreatorStats use the flat multi-value return layout.
const LedgerABI = `[
  {
    "inputs": [],
    "name": "getTotalContent",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_contentId", "type": "uint256"}],
    "name": "getContent",
    "outputs": [
      {"internalType": "uint256", "name": "id", "type": "uint256"},
      {"internalType": "string", "name": "title", "type": "string"},
      {"internalType": "string", "name": "description", "type": "string"},
      {"internalType": "uint8", "name": "contentType", "type": "uint8"},
      {"internalType": "string", "name": "ipfsHash", "type": "string"},
      {"internalType": "string", "name": "embedUrl", "type": "string"},
      {"internalType": "uint256", "name": "price", "type": "uint256"},
      {"internalType": "address", "name": "creator", "type": "address"},
      {"internalType": "bool", "name": "isActive", "type": "bool"},
      {"internalType": "uint256", "name": "createdAt", "type": "uint256"},
      {"internalType": "string", "name": "previewHash", "type": "string"},
      {"internalType": "uint256", "name": "totalEarnings", "type": "uint256"},
      {"internalType": "uint256", "name": "totalSales", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_user", "type": "address"},
      {"internalType": "uint256", "name": "_contentId", "type": "uint256"}
    ],
    "name": "checkAccess",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "_user", "type": "address"},
      {"internalType": "uint256", "name": "_contentId", "type": "uint256"}
    ],
    "name": "hasAccess",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "_creator", "type": "address"}],
    "name": "getCreatorStats",
    "outputs": [
      {"internalType": "uint256", "name": "totalEarnings", "type": "uint256"},
      {"internalType": "uint256", "name": "totalSales", "type": "uint256"},
      {"internalType": "uint256", "name": "activeContent", "type": "uint256"},
      {"internalType": "uint256", "name": "lifetimeEarnings", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "_creator", "type": "address"}],
    "name": "getUserContent",
    "outputs": [{"internalType": "uint256[]", "name": "", "type": "uint256[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "_user", "type": "address"}],
    "name": "getUserPurchases",
    "outputs": [{"internalType": "uint256[]", "name": "", "type": "uint256[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "_creator", "type": "address"}],
    "name": "getCreatorEarnings",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "_contentId", "type": "uint256"}],
    "name": "pricePerContent",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "buyer", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "contentId", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "AccessPurchased",
    "type": "event"
  }
]`
