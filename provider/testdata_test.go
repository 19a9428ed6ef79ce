package provider

const sampleCatalog = `
providers:
  - provider: acme
    description: Acme VPN
    categories:
      - name: streaming
        locations:
          - id: gb-lon
            country_code: gb
            city: London
            servers:
              - id: srv-20
                hostname: lon20.acme.example
                protocols: [openvpn]
      - name: default
        locations:
          - id: us-nyc
            country_code: US
            city: New York
            servers:
              - id: srv-8
                hostname: nyc8.acme.example
                protocols: [openvpn]
              - id: srv-7
                hostname: nyc7.acme.example
                addresses: [198.51.100.7]
                port: 51821
                protocols: [wireguard, openvpn]
                public_key: bW9jay1wdWJsaWMta2V5
          - id: de-fra
            country_code: DE
            city: Frankfurt
            servers:
              - id: srv-3
                hostname: fra3.acme.example
                protocols: [wireguard]
  - provider: zeta
    categories:
      - name: default
        locations:
          - id: jp-tyo
            country_code: JP
            city: Tokyo
            servers:
              - id: z1
                hostname: tyo1.zeta.example
                protocols: [openvpn]
`
